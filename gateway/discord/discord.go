// Package discord connects the engine to Discord via a bot session. The
// adapter implements core.Gateway on top of the channel REST endpoints and
// delivers inbound messages to the engine; entity lines go out through a
// per-channel webhook so each entity appears with its own name and avatar,
// falling back to a plain "**Name**: text" bot message when webhooks are
// unavailable.
package discord

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/internal/util"
	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/mention"
	"github.com/hupe1980/chatmesh/registry"
	"github.com/hupe1980/chatmesh/scheduler"
)

// MessageLimit leaves headroom under Discord's 2000 character cap for the
// truncation suffix and webhook fallback prefix.
const MessageLimit = 1900

// DefaultWebhookName identifies the webhook the adapter creates per channel.
const DefaultWebhookName = "chatmesh"

// Engine is the surface the adapter drives. *chatmesh.ChatMesh satisfies it.
type Engine interface {
	HandleMessage(ctx context.Context, msg core.Message)
	Reload() (int, []registry.LoadIssue, error)
	Entities() []core.Entity
	Entity(handle string) (core.Entity, bool)
	StartConversation(ctx context.Context, channelID string, handles []string, turns int) (*scheduler.Session, error)
	CancelConversation() error
	Speak(ctx context.Context, channelID string, handles ...string) error
	Pause(d time.Duration)
	Resume()
	PausedFor() time.Duration
	SessionInfo() *scheduler.SessionInfo
	LoadIssues() []registry.LoadIssue
}

// Options configures the adapter.
type Options struct {
	// WebhookName is the name of the per-channel webhook.
	WebhookName string
	// HistoryLimit bounds Recent fetches.
	HistoryLimit int
	// Logger receives adapter diagnostics.
	Logger logging.Logger
}

// Adapter is a Discord-backed core.Gateway. Create it first, pass it to the
// engine constructor, then call Run with the engine to begin receiving.
type Adapter struct {
	session      *discordgo.Session
	webhookName  string
	historyLimit int
	logger       logging.Logger

	mu       sync.Mutex
	webhooks map[string]*discordgo.Webhook
	engine   Engine
}

// New creates an adapter from a bot token. The session is not opened until
// Run is called.
func New(token string, optFns ...func(o *Options)) (*Adapter, error) {
	opts := Options{
		WebhookName:  DefaultWebhookName,
		HistoryLimit: 100,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	return &Adapter{
		session:      session,
		webhookName:  opts.WebhookName,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger,
		webhooks:     make(map[string]*discordgo.Webhook),
	}, nil
}

// Run binds the engine, opens the gateway connection and blocks until ctx
// ends, then closes the session.
func (a *Adapter) Run(ctx context.Context, engine Engine) error {
	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()

	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		a.onMessage(ctx, m)
	})
	a.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.logger.Info("connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	<-ctx.Done()
	return a.session.Close()
}

// Recent implements core.Gateway. Messages come back oldest first.
func (a *Adapter) Recent(ctx context.Context, channelID string, limit int) ([]core.Message, error) {
	if limit <= 0 || limit > a.historyLimit {
		limit = a.historyLimit
	}
	raw, err := a.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel history: %w", err)
	}
	// The API returns newest first.
	out := make([]core.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, a.convert(raw[i]))
	}
	return out, nil
}

// Emit implements core.Gateway. Entity lines go through the channel webhook
// with the entity's name and avatar; system and user lines are plain bot
// messages.
func (a *Adapter) Emit(ctx context.Context, channelID string, speaker core.Speaker, text string) (string, error) {
	text = util.Truncate(text, MessageLimit)

	if speaker.IsEntity() {
		if id, err := a.emitWebhook(ctx, channelID, speaker, text); err == nil {
			return id, nil
		} else {
			a.logger.Warn("webhook send failed, falling back to bot message", "channel", channelID, "error", err)
		}
		text = util.Truncate(fmt.Sprintf("**%s**: %s", a.displayName(speaker), text), MessageLimit)
	}

	msg, err := a.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send channel message: %w", err)
	}
	return msg.ID, nil
}

// Lookup implements core.Gateway.
func (a *Adapter) Lookup(ctx context.Context, channelID, messageID string) (core.Message, bool, error) {
	raw, err := a.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		// Deleted or inaccessible referenced messages are not an error for
		// the pipeline; the reply hint is simply dropped.
		a.logger.Debug("referenced message not fetchable", "channel", channelID, "message", messageID, "error", err)
		return core.Message{}, false, nil
	}
	return a.convert(raw), true, nil
}

func (a *Adapter) emitWebhook(ctx context.Context, channelID string, speaker core.Speaker, text string) (string, error) {
	wh, err := a.channelWebhook(channelID)
	if err != nil {
		return "", err
	}
	params := &discordgo.WebhookParams{
		Content:  text,
		Username: a.displayName(speaker),
	}
	if e, ok := a.lookupEntity(speaker.Handle); ok && e.Avatar != "" {
		params.AvatarURL = e.Avatar
	}
	msg, err := a.session.WebhookExecute(wh.ID, wh.Token, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (a *Adapter) channelWebhook(channelID string) (*discordgo.Webhook, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if wh, ok := a.webhooks[channelID]; ok {
		return wh, nil
	}

	existing, err := a.session.ChannelWebhooks(channelID)
	if err != nil {
		return nil, fmt.Errorf("list channel webhooks: %w", err)
	}
	for _, wh := range existing {
		if wh.Name == a.webhookName {
			a.webhooks[channelID] = wh
			return wh, nil
		}
	}

	wh, err := a.session.WebhookCreate(channelID, a.webhookName, "")
	if err != nil {
		return nil, fmt.Errorf("create channel webhook: %w", err)
	}
	a.webhooks[channelID] = wh
	return wh, nil
}

// convert maps a Discord message to the engine's message type. Webhook
// messages whose username matches a loaded entity's display name are
// attributed to that entity so replies and context formatting work.
func (a *Adapter) convert(m *discordgo.Message) core.Message {
	msg := core.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Text:      m.Content,
		Timestamp: m.Timestamp,
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	if handle, ok := a.identifyEntity(m); ok {
		msg.Author = core.EntitySpeaker(handle)
	} else if m.Author != nil {
		name := m.Author.GlobalName
		if name == "" {
			name = m.Author.Username
		}
		msg.Author = core.UserSpeaker(m.Author.ID, name)
	}
	return msg
}

// identifyEntity matches webhook messages back to entities by normalized
// display name. Discord strips some characters from webhook usernames, so
// the comparison ignores everything but letters, digits and spaces.
func (a *Adapter) identifyEntity(m *discordgo.Message) (string, bool) {
	if m.WebhookID == "" || m.Author == nil {
		return "", false
	}
	want := mention.NormalizeName(m.Author.Username)
	for _, e := range a.entities() {
		if mention.NormalizeName(e.Name) == want {
			return e.Handle, true
		}
	}
	return "", false
}

func (a *Adapter) onMessage(ctx context.Context, m *discordgo.MessageCreate) {
	engine := a.boundEngine()
	if engine == nil {
		return
	}
	// Ignore the bot's own non-webhook messages and other bots; entity
	// webhook lines pass through so replies to them resolve.
	if m.Author != nil && m.Author.Bot && m.WebhookID == "" {
		return
	}
	if strings.HasPrefix(m.Content, commandPrefix) {
		if m.WebhookID == "" {
			a.handleCommand(ctx, m)
		}
		return
	}
	msg := a.convert(m.Message)
	if a.isDirectMention(m) {
		if handle, ok := a.randomSummon(msg); ok {
			if err := engine.Speak(ctx, m.ChannelID, handle); err != nil {
				a.logger.Error("summon failed", "handle", handle, "error", err)
			}
			return
		}
	}
	engine.HandleMessage(ctx, msg)
}

// isDirectMention reports whether the message @-mentions the bot user itself.
func (a *Adapter) isDirectMention(m *discordgo.MessageCreate) bool {
	if a.session.State == nil || a.session.State.User == nil {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == a.session.State.User.ID {
			return true
		}
	}
	return false
}

// randomSummon picks one registered entity when a direct bot mention names
// no handle: "@bot say something" wakes a random entity. Replies are left to
// normal resolution so the reply target is never shadowed.
func (a *Adapter) randomSummon(msg core.Message) (string, bool) {
	if msg.ReplyToID != "" {
		return "", false
	}
	entities := a.entities()
	if len(entities) == 0 {
		return "", false
	}
	if !mention.Resolve(msg.Text, nil, core.NewSnapshot(entities)).Empty() {
		return "", false
	}
	return entities[rand.IntN(len(entities))].Handle, true
}

func (a *Adapter) boundEngine() Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

func (a *Adapter) entities() []core.Entity {
	if engine := a.boundEngine(); engine != nil {
		return engine.Entities()
	}
	return nil
}

func (a *Adapter) lookupEntity(handle string) (core.Entity, bool) {
	if engine := a.boundEngine(); engine != nil {
		return engine.Entity(handle)
	}
	return core.Entity{}, false
}

func (a *Adapter) displayName(speaker core.Speaker) string {
	if e, ok := a.lookupEntity(speaker.Handle); ok {
		return e.Name
	}
	return speaker.DisplayName()
}

// send is the command reply helper; command output always fits one message.
func (a *Adapter) send(ctx context.Context, channelID, text string) {
	if _, err := a.session.ChannelMessageSend(channelID, util.Truncate(text, MessageLimit), discordgo.WithContext(ctx)); err != nil {
		a.logger.Warn("command reply failed", "channel", channelID, "error", err)
	}
}
