package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/internal/util"
)

const commandPrefix = "!"

// handleCommand dispatches "!" prefixed management commands. Unknown commands
// get a hint listing the valid ones.
func (a *Adapter) handleCommand(ctx context.Context, m *discordgo.MessageCreate) {
	fields := strings.Fields(strings.TrimPrefix(m.Content, commandPrefix))
	if len(fields) == 0 {
		return
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	a.logger.Debug("command received", "command", name, "args", args, "channel", m.ChannelID)

	switch name {
	case "list":
		a.cmdList(ctx, m.ChannelID)
	case "reload":
		a.cmdReload(ctx, m.ChannelID)
	case "status":
		a.cmdStatus(ctx, m.ChannelID)
	case "speak":
		a.cmdSpeak(ctx, m.ChannelID, args)
	case "chat":
		a.cmdChat(ctx, m.ChannelID, args)
	case "stop":
		a.cmdStop(ctx, m.ChannelID)
	case "resume":
		a.engine.Resume()
		a.send(ctx, m.ChannelID, "**Entity activity resumed.**")
	case "commands", "help":
		a.cmdCommands(ctx, m.ChannelID)
	default:
		a.send(ctx, m.ChannelID, "Unknown command. Valid commands: !list, !reload, !status, !speak, !chat, !stop, !resume, !commands")
	}
}

func (a *Adapter) cmdList(ctx context.Context, channelID string) {
	entities := a.engine.Entities()
	if len(entities) == 0 {
		a.send(ctx, channelID, "No entities are currently loaded. Check the definition directory.")
		return
	}
	var b strings.Builder
	b.WriteString("**Loaded Entities:**\n\n")
	for _, e := range entities {
		fmt.Fprintf(&b, "**%s** (`%s`) - %s\n", e.Name, e.Handle, util.Truncate(e.Description, 50))
	}
	a.send(ctx, channelID, b.String())
}

func (a *Adapter) cmdReload(ctx context.Context, channelID string) {
	old := len(a.engine.Entities())
	count, issues, err := a.engine.Reload()
	if err != nil {
		a.send(ctx, channelID, fmt.Sprintf("**Reload failed:** %v", err))
		return
	}
	msg := fmt.Sprintf("**Reloaded %d entities** (was %d)", count, old)
	if len(issues) > 0 {
		msg += fmt.Sprintf(", %d file(s) skipped", len(issues))
	}
	a.send(ctx, channelID, msg+"\n\nUse `!list` to see the updated list.")
}

func (a *Adapter) cmdStatus(ctx context.Context, channelID string) {
	entities := a.engine.Entities()

	var b strings.Builder
	b.WriteString("**Entity System Status**\n\n")
	fmt.Fprintf(&b, "**Loaded Entities:** %d\n", len(entities))

	if paused := a.engine.PausedFor(); paused > 0 {
		fmt.Fprintf(&b, "**Activity:** Stopped (%.1fs remaining)\n", paused.Seconds())
	} else {
		b.WriteString("**Activity:** Active\n")
	}
	if info := a.engine.SessionInfo(); info != nil {
		fmt.Fprintf(&b, "**Active Chat:** %s (turn %d/%d)\n", strings.Join(info.Participants, ", "), info.TurnsDone, info.TurnBudget)
	}
	if issues := a.engine.LoadIssues(); len(issues) > 0 {
		fmt.Fprintf(&b, "**Skipped Definition Files:** %d\n", len(issues))
	}

	if len(entities) > 0 {
		models := map[string]int{}
		for _, e := range entities {
			models[e.Model]++
		}
		b.WriteString("\n**Entity Models:**\n")
		for model, count := range models {
			fmt.Fprintf(&b, "  - %s: %d entity(ies)\n", model, count)
		}

		var custom []string
		for _, e := range entities {
			var parts []string
			if e.APIURL != "" {
				parts = append(parts, "URL: "+e.APIURL)
			}
			if e.APIKey != "" {
				parts = append(parts, "Custom API Key")
			}
			if len(parts) > 0 {
				custom = append(custom, fmt.Sprintf("  - %s: %s", e.Name, strings.Join(parts, ", ")))
			}
		}
		if len(custom) > 0 {
			b.WriteString("\n**Entities with Custom Model Config:**\n")
			b.WriteString(strings.Join(custom, "\n"))
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n**Try:** `@%s hello there!`", entities[0].Handle)
	} else {
		b.WriteString("\n**No entities loaded.** Use `!reload` after adding definitions.")
	}
	a.send(ctx, channelID, b.String())
}

func (a *Adapter) cmdSpeak(ctx context.Context, channelID string, handles []string) {
	for i, h := range handles {
		handles[i] = strings.ToLower(h)
	}
	if err := a.engine.Speak(ctx, channelID, handles...); err != nil {
		a.send(ctx, channelID, fmt.Sprintf("**Speak failed:** %v", err))
	}
}

// cmdChat parses "!chat [handle ...] [turns]"; the first positive integer
// argument sets the turn count, everything else is a participant handle.
func (a *Adapter) cmdChat(ctx context.Context, channelID string, args []string) {
	turns := 0
	var handles []string
	for _, arg := range args {
		if turns == 0 {
			if n, err := strconv.Atoi(arg); err == nil && n > 0 {
				turns = n
				continue
			}
		}
		handles = append(handles, strings.ToLower(arg))
	}

	session, err := a.engine.StartConversation(ctx, channelID, handles, turns)
	if err != nil {
		if errors.Is(err, core.ErrSessionBusy) {
			a.send(ctx, channelID, "**A conversation is already running.** Use `!stop` to cancel it first.")
			return
		}
		a.send(ctx, channelID, fmt.Sprintf("**Chat failed to start:** %v", err))
		return
	}
	a.logger.Info("conversation started via command", "session", session.ID, "channel", channelID)
}

func (a *Adapter) cmdStop(ctx context.Context, channelID string) {
	a.engine.Pause(0)
	a.send(ctx, channelID, "**Entity activity stopped everywhere for 30 seconds.**")
}

func (a *Adapter) cmdCommands(ctx context.Context, channelID string) {
	a.send(ctx, channelID, `**Available Commands:**

**Entity Interaction:**
- `+"`@handle message`"+` - Summon a specific entity
- Reply to an entity's message - That entity responds
- `+"`!speak [handle ...]`"+` - Make entities speak once, in order
- `+"`!chat [handle ...] [turns]`"+` - Start a conversation between entities

**Management:**
- `+"`!list`"+` - List all loaded entities
- `+"`!reload`"+` - Reload entity definitions
- `+"`!status`"+` - Show system status
- `+"`!stop`"+` - Stop entity activity for 30 seconds
- `+"`!resume`"+` - Resume entity activity early
- `+"`!commands`"+` - Show this help message`)
}
