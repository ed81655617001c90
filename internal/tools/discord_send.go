package tools

import "context"

// Sender delivers a message to a chat channel. Implemented by the
// gateway; an interface here keeps the dependency one-directional.
type Sender interface {
	SendMessage(channelID, content string) error
}

// DiscordSendTool lets the agent push messages to channels mid-chain,
// before the final answer is rendered.
type DiscordSendTool struct {
	sender Sender
}

// NewDiscordSendTool creates the send tool. The sender may be nil at
// construction and bound later, once the gateway is connected.
func NewDiscordSendTool(sender Sender) *DiscordSendTool {
	return &DiscordSendTool{sender: sender}
}

// SetSender binds the chat gateway after it connects.
func (t *DiscordSendTool) SetSender(sender Sender) { t.sender = sender }

func (t *DiscordSendTool) Name() string { return "DiscordSendTool" }

func (t *DiscordSendTool) Init() error { return nil }

func (t *DiscordSendTool) Context() string {
	return `Send a message to a Discord channel immediately.
Operations:
  send {channel, message} -> {sent}
Use for progress updates during long work; the final answer is
delivered automatically and does not need this tool.`
}

func (t *DiscordSendTool) Run(_ context.Context, args map[string]any) Result {
	if missing := Require(args, "channel", "message"); missing != "" {
		return Fail("DiscordSendTool: %s is required", missing)
	}
	if t.sender == nil {
		return Fail("DiscordSendTool: chat gateway is not connected")
	}
	channel := GetString(args, "channel", "")
	message := GetString(args, "message", "")
	if err := t.sender.SendMessage(channel, message); err != nil {
		return Fail("DiscordSendTool: %v", err)
	}
	return OK(map[string]any{"sent": true, "channel": channel})
}
