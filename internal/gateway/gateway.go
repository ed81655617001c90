// Package gateway connects the agent to Discord: ingress gating,
// history retrieval, status bubbles, response chunking, and the
// slash-command surface.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/skippybot/skippy/internal/llm"
	"github.com/skippybot/skippy/internal/orchestrator"
)

const (
	messageLimit    = 2000
	typingInterval  = 8 * time.Second
	defaultHistory  = 20
	clearBatchSize  = 100
	bulkDeleteLimit = 14 * 24 * time.Hour
)

// ModelManager lets the gateway's model commands inspect and persist
// the active model. Implemented by the daemon wiring.
type ModelManager interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
	SetModel(ctx context.Context, name string) error
	CurrentModel() string
}

// Options configures the gateway.
type Options struct {
	Token        string
	GuildID      string
	HistoryLimit int
	DefaultUser  string
	Orchestrator *orchestrator.Orchestrator
	Models       ModelManager
}

// Gateway is the Discord frontend.
type Gateway struct {
	session      *discordgo.Session
	guildID      string
	historyLimit int
	defaultUser  string
	orch         *orchestrator.Orchestrator
	models       ModelManager

	mu          sync.Mutex
	statusMsgs  map[string][]string // channel → status message IDs
	typingStops map[string]chan struct{}
}

// New creates a gateway. Start must be called to connect.
func New(opts Options) (*Gateway, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("gateway: discord token is required")
	}
	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("gateway: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistory
	}
	g := &Gateway{
		session:      session,
		guildID:      opts.GuildID,
		historyLimit: opts.HistoryLimit,
		defaultUser:  opts.DefaultUser,
		orch:         opts.Orchestrator,
		models:       opts.Models,
		statusMsgs:   make(map[string][]string),
		typingStops:  make(map[string]chan struct{}),
	}
	session.AddHandler(g.onMessageCreate)
	session.AddHandler(g.onInteraction)
	return g, nil
}

// Start opens the Discord connection and registers the command surface.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("gateway: open session: %w", err)
	}
	if err := g.registerCommands(); err != nil {
		slog.Warn("Slash command registration failed", "error", err)
	}
	slog.Info("Discord gateway connected", "user", g.session.State.User.Username)

	go func() {
		<-ctx.Done()
		g.session.Close()
	}()
	return nil
}

// Stop closes the Discord connection.
func (g *Gateway) Stop() error { return g.session.Close() }

// SendMessage delivers content to a channel, chunked to the platform
// limit. Satisfies the send tool's Sender interface.
func (g *Gateway) SendMessage(channelID, content string) error {
	for _, chunk := range ChunkMessage(content, messageLimit) {
		if _, err := g.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("gateway: send to %s: %w", channelID, err)
		}
	}
	return nil
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	isDM := m.GuildID == ""
	mentioned := mentionsUser(m.Mentions, s.State.User.ID)
	humans := g.visibleHumans(m.ChannelID)
	if !ShouldRespond(isDM, mentioned, humans) {
		return
	}

	content := stripMention(m.Content, s.State.User.ID)
	go g.runPrompt(m, content)
}

// runPrompt drives one chat-originated chain: history prefix, typing
// indicator, status bubbles, final answer, cleanup.
func (g *Gateway) runPrompt(m *discordgo.MessageCreate, content string) {
	channelID := m.ChannelID
	prompt := content
	if history := g.fetchHistory(channelID, m.ID); history != "" {
		prompt = "Recent conversation:\n" + history + "\n\nCurrent request: " + content
	}

	stopTyping := g.startTyping(channelID)
	defer stopTyping()

	var images []string
	for _, att := range m.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") {
			images = append(images, att.URL)
		}
	}

	out, err := g.orch.Run(context.Background(), orchestrator.Request{
		Prompt:       prompt,
		Channel:      channelID,
		User:         m.Author.Username,
		ImageSources: images,
		Status:       func(text string) { g.postStatus(channelID, text) },
	})
	if err != nil {
		slog.Error("Prompt chain failed", "channel", channelID, "error", err)
		g.SendMessage(channelID, "Something went wrong: "+err.Error())
		return
	}
	if out.Aborted {
		slog.Info("Chain aborted by user", "channel", channelID)
		return
	}
	if out.FinalAnswer == "" {
		return
	}
	if err := g.SendMessage(channelID, out.FinalAnswer); err != nil {
		slog.Error("Failed to deliver answer", "channel", channelID, "error", err)
		return
	}
	g.deleteStatusMessages(channelID)
}

// fetchHistory pulls the channel's recent messages from Discord itself,
// filters the bot's status bubbles, and formats author: content lines
// oldest first.
func (g *Gateway) fetchHistory(channelID, beforeID string) string {
	msgs, err := g.session.ChannelMessages(channelID, g.historyLimit, beforeID, "", "")
	if err != nil {
		slog.Warn("History fetch failed", "channel", channelID, "error", err)
		return ""
	}
	lines := make([]string, 0, len(msgs))
	// Discord returns newest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Author == nil || IsStatusBubble(msg.Content) {
			continue
		}
		lines = append(lines, msg.Author.Username+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

// visibleHumans counts the channel's human members, for the
// single-human auto-reply rule. Unknown shapes count as many.
func (g *Gateway) visibleHumans(channelID string) int {
	ch, err := g.session.State.Channel(channelID)
	if err != nil {
		ch, err = g.session.Channel(channelID)
		if err != nil {
			return -1
		}
	}
	switch ch.Type {
	case discordgo.ChannelTypeDM:
		return 1
	case discordgo.ChannelTypeGroupDM:
		humans := 0
		for _, r := range ch.Recipients {
			if !r.Bot {
				humans++
			}
		}
		return humans
	default:
		if ch.MemberCount > 0 {
			// Thread member count includes the bot.
			return ch.MemberCount - 1
		}
		return -1
	}
}

// startTyping refreshes the typing indicator every 8s until stopped.
func (g *Gateway) startTyping(channelID string) func() {
	stop := make(chan struct{})
	g.mu.Lock()
	if prev, ok := g.typingStops[channelID]; ok {
		close(prev)
	}
	g.typingStops[channelID] = stop
	g.mu.Unlock()

	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		g.session.ChannelTyping(channelID)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.session.ChannelTyping(channelID)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			g.mu.Lock()
			if g.typingStops[channelID] == stop {
				delete(g.typingStops, channelID)
			}
			g.mu.Unlock()
		})
	}
}

// postStatus sends a status bubble and records it for later deletion.
func (g *Gateway) postStatus(channelID, text string) {
	msg, err := g.session.ChannelMessageSend(channelID, statusPrefix+text)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.statusMsgs[channelID] = append(g.statusMsgs[channelID], msg.ID)
	g.mu.Unlock()
}

// deleteStatusMessages removes every recorded status bubble for the
// channel. Called only after a non-empty final answer was delivered.
func (g *Gateway) deleteStatusMessages(channelID string) {
	g.mu.Lock()
	ids := g.statusMsgs[channelID]
	delete(g.statusMsgs, channelID)
	g.mu.Unlock()
	for _, id := range ids {
		if err := g.session.ChannelMessageDelete(channelID, id); err != nil {
			slog.Debug("Status bubble delete failed", "channel", channelID, "message", id)
		}
	}
}

const statusPrefix = "⏳ "

// ShouldRespond applies the ingress gate: DMs always, mentions always,
// and channels whose visible-human membership is exactly one.
func ShouldRespond(isDM, mentioned bool, visibleHumans int) bool {
	if isDM || mentioned {
		return true
	}
	return visibleHumans == 1
}

// IsStatusBubble recognizes the bot's own progress messages so they are
// filtered out of history.
func IsStatusBubble(content string) bool {
	if strings.HasPrefix(content, statusPrefix) {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(content))
	for _, p := range []string{"thinking...", "processing step ", "running "} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return lower == "done"
}

// ChunkMessage splits content into platform-sized chunks, preferring
// newline boundaries.
func ChunkMessage(content string, limit int) []string {
	if content == "" {
		return nil
	}
	var out []string
	for len(content) > limit {
		cut := strings.LastIndex(content[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		out = append(out, content[:cut])
		content = strings.TrimPrefix(content[cut:], "\n")
	}
	if content != "" {
		out = append(out, content)
	}
	return out
}

func mentionsUser(mentions []*discordgo.User, userID string) bool {
	for _, u := range mentions {
		if u.ID == userID {
			return true
		}
	}
	return false
}

func stripMention(content, userID string) string {
	for _, form := range []string{"<@" + userID + ">", "<@!" + userID + ">"} {
		content = strings.ReplaceAll(content, form, "")
	}
	return strings.TrimSpace(content)
}
