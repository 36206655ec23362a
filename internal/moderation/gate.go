package moderation

import (
	"context"
	"fmt"
	"sync"

	logx "github.com/Shirozy/Globot/pkg/logx"

	"github.com/Shirozy/Globot/internal/registry"
	"github.com/Shirozy/Globot/internal/toxicity"
	"github.com/Shirozy/Globot/internal/transport"
)

const (
	colorRed = 0xED4245
)

// Platform is the slice of the chat platform the gate drives its side
// effects through.
type Platform interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendEmbed(ctx context.Context, channelID string, e transport.Embed) error
	SendChannel(ctx context.Context, channelID, text string) error
	SendDM(ctx context.Context, userID string, e transport.Embed) error
}

// Gate converts raw category scores into an accept/block decision and, on
// block, runs the moderation side effects: warn, log, delete, notify.
type Gate struct {
	log      logx.Logger
	reg      *registry.Store
	scorer   toxicity.Scorer
	platform Platform

	mu      sync.Mutex
	enabled bool
	trace   bool
}

func New(reg *registry.Store, scorer toxicity.Scorer, platform Platform, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{log: log, reg: reg, scorer: scorer, platform: platform, enabled: true}
}

// Apply updates runtime toggles (config hot reload). trace logs every
// decision at info level instead of debug.
func (g *Gate) Apply(enabled, trace bool) {
	g.mu.Lock()
	g.enabled = enabled
	g.trace = trace
	g.mu.Unlock()
}

func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Check scores the message and reports whether relay must stop (message
// blocked). When scoring itself fails the gate fails open: a classifier
// outage must not silently stop all relay traffic.
func (g *Gate) Check(ctx context.Context, msg transport.Message) bool {
	g.mu.Lock()
	enabled, trace := g.enabled, g.trace
	g.mu.Unlock()

	if !enabled {
		return false
	}

	score, err := g.scorer.Score(ctx, msg.Content)
	if err != nil {
		g.log.Error("toxicity scoring failed; failing open",
			logx.String("channel", msg.ChannelID), logx.Err(err))
		return false
	}

	if !score.Toxic() {
		if trace {
			g.log.Info("message accepted", logx.String("channel", msg.ChannelID),
				logx.String("author", msg.Author.ID), logx.Float64("toxic", score["toxic"]))
		} else {
			g.log.Debug("message accepted", logx.String("channel", msg.ChannelID),
				logx.Float64("toxic", score["toxic"]))
		}
		return false
	}

	g.block(ctx, msg, score, trace)
	return true
}

// block runs the moderation side effects in order. The warning increment
// always happens first so later notification failures cannot lose it.
func (g *Gate) block(ctx context.Context, msg transport.Message, score toxicity.Score, trace bool) {
	count := g.reg.IncrementWarning(msg.GuildID, msg.Author.ID)

	lvl := g.log.Debug
	if trace {
		lvl = g.log.Info
	}
	lvl("toxic message blocked",
		logx.String("guild", msg.GuildID),
		logx.String("channel", msg.ChannelID),
		logx.String("author", msg.Author.ID),
		logx.Int("warnings", count),
		logx.Float64("toxic", score["toxic"]))

	logChannel, hasLog := g.reg.LogTarget(msg.GuildID)
	if hasLog {
		e := transport.Embed{
			Title: "Toxic Message Detected",
			Color: colorRed,
			Fields: []transport.EmbedField{
				{Name: "User", Value: mention(msg.Author.ID), Inline: true},
				{Name: "Message", Value: contentOrPlaceholder(msg.Content)},
				{Name: "Scores", Value: score.Render()},
			},
		}
		if err := g.platform.SendEmbed(ctx, logChannel, e); err != nil {
			g.log.Warn("moderation log send failed",
				logx.String("guild", msg.GuildID), logx.String("channel", logChannel), logx.Err(err))
		}
	}

	if err := g.platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		g.log.Warn("could not delete toxic message",
			logx.String("channel", msg.ChannelID), logx.String("message", msg.ID), logx.Err(err))
	}

	g.notifyAuthor(ctx, msg, count, logChannel, hasLog)
}

// notifyAuthor tries each delivery strategy in order until one succeeds:
// DM the author, then announce the DM failure in the log channel. When
// neither is possible the failure is swallowed.
func (g *Gate) notifyAuthor(ctx context.Context, msg transport.Message, count int, logChannel string, hasLog bool) {
	strategies := []func(context.Context) error{
		func(c context.Context) error {
			return g.platform.SendDM(c, msg.Author.ID, transport.Embed{
				Title: "Toxic Message Removed",
				Color: colorRed,
				Fields: []transport.EmbedField{
					{Name: "Your Message", Value: contentOrPlaceholder(msg.Content)},
					{Name: "Warning Count", Value: fmt.Sprintf("%d", count)},
				},
			})
		},
		func(c context.Context) error {
			if !hasLog {
				return fmt.Errorf("no log channel configured")
			}
			return g.platform.SendChannel(c, logChannel,
				fmt.Sprintf("Could not DM %s about a deleted toxic message.", mention(msg.Author.ID)))
		},
	}

	for _, try := range strategies {
		if err := try(ctx); err == nil {
			return
		}
	}
	g.log.Debug("author notification dropped",
		logx.String("guild", msg.GuildID), logx.String("author", msg.Author.ID))
}

func contentOrPlaceholder(s string) string {
	if s == "" {
		return "[No content]"
	}
	return s
}

func mention(userID string) string { return "<@" + userID + ">" }
