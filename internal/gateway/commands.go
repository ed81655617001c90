package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/skippybot/skippy/internal/orchestrator"
)

// registerCommands installs the slash-command surface. Commands are
// registered per guild when one is configured, globally otherwise.
func (g *Gateway) registerCommands() error {
	var limitMin, limitMax float64 = 1, 200
	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "stop",
			Description: "Abort the running chain on this channel",
		},
		{
			Name:        "clear",
			Description: "Delete recent messages in this channel",
		},
		{
			Name:        "model",
			Description: "Inspect or switch the active model",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List models available on the backend",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Switch the active model",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Model name",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        "loop_limit",
			Description: "Inspect or set the tool-loop step limit",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "value",
					Description: "New limit (1-200); omit to show the current one",
					MinValue:    &limitMin,
					MaxValue:    limitMax,
				},
			},
		},
		{
			Name:        "context",
			Description: "Manage files and images attached to every prompt",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Attach a file or image",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "type",
							Description: "file or image",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "file", Value: "file"},
								{Name: "image", Value: "image"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "path",
							Description: "Path on the daemon host",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Detach an item by its list index",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "index",
							Description: "1-based index from /context list",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List attached items",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Show context window usage",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "clear",
					Description: "Detach everything",
				},
			},
		},
	}

	appID := g.session.State.User.ID
	for _, cmd := range cmds {
		if _, err := g.session.ApplicationCommandCreate(appID, g.guildID, cmd); err != nil {
			return fmt.Errorf("register /%s: %w", cmd.Name, err)
		}
	}
	return nil
}

func (g *Gateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	var reply string
	switch data.Name {
	case "stop":
		reply = g.cmdStop(i.ChannelID)
	case "clear":
		g.respond(s, i, "Clearing recent messages...")
		go g.cmdClear(i.ChannelID)
		return
	case "model":
		reply = g.cmdModel(data.Options)
	case "loop_limit":
		reply = g.cmdLoopLimit(data.Options)
	case "context":
		reply = g.cmdContext(data.Options, i)
	default:
		reply = "Unknown command."
	}
	g.respond(s, i, reply)
}

func (g *Gateway) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		slog.Warn("Interaction response failed", "error", err)
	}
}

func (g *Gateway) cmdStop(channelID string) string {
	g.orch.Aborts().Request(channelID)
	g.mu.Lock()
	if stop, ok := g.typingStops[channelID]; ok {
		close(stop)
		delete(g.typingStops, channelID)
	}
	g.mu.Unlock()
	return "Stopping. The chain will halt at the next checkpoint."
}

// cmdClear deletes the channel's recent messages in batches. Messages
// older than the bulk-delete horizon are skipped; Discord refuses them.
func (g *Gateway) cmdClear(channelID string) {
	cutoff := time.Now().Add(-bulkDeleteLimit)
	deleted := 0
	for {
		msgs, err := g.session.ChannelMessages(channelID, clearBatchSize, "", "", "")
		if err != nil || len(msgs) == 0 {
			break
		}
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ts := m.Timestamp
			if ts.After(cutoff) {
				ids = append(ids, m.ID)
			}
		}
		if len(ids) == 0 {
			break
		}
		if err := g.session.ChannelMessagesBulkDelete(channelID, ids); err != nil {
			slog.Warn("Bulk delete failed", "channel", channelID, "error", err)
			break
		}
		deleted += len(ids)
		if len(msgs) < clearBatchSize {
			break
		}
	}
	slog.Info("Channel cleared", "channel", channelID, "deleted", deleted)
}

func (g *Gateway) cmdModel(opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	if g.models == nil {
		return "Model management is not available."
	}
	if len(opts) == 0 {
		return "Current model: " + g.models.CurrentModel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch opts[0].Name {
	case "list":
		infos, err := g.models.ListModels(ctx)
		if err != nil {
			return "Could not list models: " + err.Error()
		}
		current := g.models.CurrentModel()
		var b strings.Builder
		b.WriteString("Available models:\n")
		for _, m := range infos {
			marker := "  "
			if m.Name == current {
				marker = "* "
			}
			fmt.Fprintf(&b, "%s%s", marker, m.Name)
			if m.ParamSize != "" {
				fmt.Fprintf(&b, " (%s", m.ParamSize)
				if m.ContextLength > 0 {
					fmt.Fprintf(&b, ", %d ctx", m.ContextLength)
				}
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
		return b.String()
	case "set":
		name := opts[0].Options[0].StringValue()
		if err := g.models.SetModel(ctx, name); err != nil {
			return "Could not switch model: " + err.Error()
		}
		return "Model set to " + name + "."
	}
	return "Usage: /model list or /model set."
}

func (g *Gateway) cmdLoopLimit(opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	if len(opts) == 0 {
		return fmt.Sprintf("Loop limit is %d steps.", g.orch.LoopLimit())
	}
	value := int(opts[0].IntValue())
	if value < 1 || value > 200 {
		return "Loop limit must be between 1 and 200."
	}
	g.orch.SetLoopLimit(value)
	return fmt.Sprintf("Loop limit set to %d steps.", value)
}

func (g *Gateway) cmdContext(opts []*discordgo.ApplicationCommandInteractionDataOption, i *discordgo.InteractionCreate) string {
	items := g.orch.Items()
	if len(opts) == 0 {
		return "Usage: /context add|remove|list|status|clear."
	}
	sub := opts[0]
	switch sub.Name {
	case "add":
		itemType := sub.Options[0].StringValue()
		path := sub.Options[1].StringValue()
		addedBy := g.defaultUser
		if i.Member != nil && i.Member.User != nil {
			addedBy = i.Member.User.Username
		} else if i.User != nil {
			addedBy = i.User.Username
		}
		if err := items.Add(itemType, path, addedBy); err != nil {
			return "Could not add item: " + err.Error()
		}
		return "Added " + itemType + " " + path + "."
	case "remove":
		index := int(sub.Options[0].IntValue())
		removed, err := items.Remove(index)
		if err != nil {
			return "Could not remove item: " + err.Error()
		}
		return "Removed " + removed.Type + " " + removed.Path + "."
	case "list":
		return FormatContextList(items.List())
	case "status":
		window := g.orch.EffectiveContextWindow()
		used := len(items.FilesBlock()) / 4
		return fmt.Sprintf("Attached items use ~%d tokens of a %d token window (%.1f%%).",
			used, window, 100*float64(used)/float64(window))
	case "clear":
		if err := items.Clear(); err != nil {
			return "Could not clear context: " + err.Error()
		}
		return "Context cleared."
	}
	return "Unknown context subcommand."
}

// FormatContextList renders the attached items as a 1-based list, the
// same indexes /context remove accepts.
func FormatContextList(items []orchestrator.ContextItem) string {
	if len(items) == 0 {
		return "No items attached."
	}
	var b strings.Builder
	b.WriteString("Attached items:\n")
	for i, item := range items {
		b.WriteString(strconv.Itoa(i+1) + ". [" + item.Type + "] " + item.Path +
			" (added by " + item.AddedBy + ")\n")
	}
	return b.String()
}
