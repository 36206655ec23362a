// Package digest posts a scheduled per-guild summary of relay activity
// to each guild's log channel.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/Shirozy/Globot/pkg/logx"

	"github.com/Shirozy/Globot/internal/registry"
	"github.com/Shirozy/Globot/internal/storage"
	"github.com/Shirozy/Globot/internal/transport"
)

const (
	defaultSchedule = "0 9 * * *"
	digestWindow    = 24 * time.Hour
	colorBlurple    = 0x5865F2
)

// Sender posts the digest embed, normally the platform adapter.
type Sender interface {
	SendEmbed(ctx context.Context, channelID string, e transport.Embed) error
}

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
}

type Service struct {
	cfg    Config
	log    logx.Logger
	reg    *registry.Store
	audit  storage.Store
	sender Sender

	c *cron.Cron
}

func New(cfg Config, reg *registry.Store, audit storage.Store, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, reg: reg, audit: audit, sender: sender}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("digest disabled")
		return nil
	}
	if s.audit == nil {
		s.log.Warn("digest enabled but audit store is off; skipping")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest timezone %q: %w", tz, err)
		}
		loc = l
	}

	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = defaultSchedule
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.run(runCtx)
	}); err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("digest scheduled",
		logx.String("spec", spec),
		logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.c = nil
}

// run posts one digest embed per guild that has both linked channels and
// a configured log channel. Guilds without a log channel are skipped
// silently; they opted out of operational output.
func (s *Service) run(ctx context.Context) {
	since := time.Now().Add(-digestWindow)
	channelsByGuild := map[string]int{}
	for _, l := range s.reg.Links() {
		channelsByGuild[l.GuildID]++
	}

	for guildID, channels := range channelsByGuild {
		target, ok := s.reg.LogTarget(guildID)
		if !ok {
			continue
		}
		totals, err := s.audit.GuildTotals(ctx, guildID, since)
		if err != nil {
			s.log.Error("digest totals query failed",
				logx.String("guild", guildID),
				logx.Err(err))
			continue
		}
		if err := s.sender.SendEmbed(ctx, target, digestEmbed(channels, totals)); err != nil {
			s.log.Warn("digest delivery failed",
				logx.String("guild", guildID),
				logx.String("channel", target),
				logx.Err(err))
		}
	}
}

func digestEmbed(channels int, totals storage.Totals) transport.Embed {
	return transport.Embed{
		Title: "Daily Relay Digest",
		Color: colorBlurple,
		Fields: []transport.EmbedField{
			{Name: "Linked Channels", Value: fmt.Sprintf("%d", channels), Inline: true},
			{Name: "Messages Relayed", Value: fmt.Sprintf("%d", totals.Relayed), Inline: true},
			{Name: "Messages Blocked", Value: fmt.Sprintf("%d", totals.Blocked), Inline: true},
		},
	}
}
