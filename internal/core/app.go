// Package core assembles the relay: configuration, logging, the Discord
// adapter, moderation, translation, fan-out and the supporting services.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "github.com/Shirozy/Globot/pkg/logx"

	"github.com/Shirozy/Globot/internal/adapters/discord"
	"github.com/Shirozy/Globot/internal/commands"
	"github.com/Shirozy/Globot/internal/config"
	"github.com/Shirozy/Globot/internal/moderation"
	"github.com/Shirozy/Globot/internal/registry"
	"github.com/Shirozy/Globot/internal/relay"
	"github.com/Shirozy/Globot/internal/runtime/supervisor"
	"github.com/Shirozy/Globot/internal/services/digest"
	"github.com/Shirozy/Globot/internal/storage"
	"github.com/Shirozy/Globot/internal/toxicity"
	"github.com/Shirozy/Globot/internal/translate"
	"github.com/Shirozy/Globot/internal/transport"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *discord.Adapter
	reg     *registry.Store
	audit   storage.Store

	pool       *toxicity.Pool
	poolSize   int
	gate       *moderation.Gate
	translator *translate.Translator
	relay      *relay.Service
	cmds       *commands.Service
	digest     *digest.Service

	messages chan transport.Message
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.EffectiveLevel()).With(logx.String("comp", "discord"))
	adapter, err := discord.New(discord.Config{Token: cfg.Discord.Token}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.EffectiveLevel(),
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}, adapter)
	logSvc.SetDiscordTarget(strings.TrimSpace(cfg.Logging.Discord.ChannelID))
	log = log.With(logx.String("comp", "app"))

	reg, err := registry.Open(cfg.Registry.Path, log.With(logx.String("comp", "registry")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	audit, err := openAudit(cfg, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	toxTimeout, err := config.Timeout("toxicity.timeout", cfg.Toxicity.Timeout, 10*time.Second)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	scorer := toxicity.NewClient(cfg.Toxicity.URL, toxTimeout)
	pool := toxicity.NewPool(scorer, log.With(logx.String("comp", "toxicity")))

	gate := moderation.New(reg, pool, adapter, log.With(logx.String("comp", "moderation")))
	gate.Apply(cfg.Toxicity.IsEnabled(), cfg.Logging.ModerationTrace())

	trTimeout, err := config.Timeout("translation.timeout", cfg.Translation.Timeout, 10*time.Second)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	translator := translate.New(translate.Config{
		Enabled: cfg.Translation.IsEnabled(),
		URL:     cfg.Translation.URL,
		Timeout: trTimeout,
	}, log.With(logx.String("comp", "translate")))

	endpoints := relay.NewEndpointCache(reg, adapter, log.With(logx.String("comp", "endpoints")))
	relaySvc := relay.New(relayConfig(cfg), reg, gate, translator, endpoints, audit,
		adapter.SelfID, log.With(logx.String("comp", "relay")))

	cmds := commands.New(adapter.Session(), reg, audit, adapter, adapter.GuildCount,
		log.With(logx.String("comp", "commands")))

	var digestSvc *digest.Service
	if cfg.Digest != nil {
		digestSvc = digest.New(digest.Config{
			Enabled:  cfg.Digest.Enabled,
			Schedule: cfg.Digest.Schedule,
			Timezone: cfg.Digest.Timezone,
		}, reg, audit, adapter, log.With(logx.String("comp", "digest")))
	}

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		adapter:    adapter,
		reg:        reg,
		audit:      audit,
		pool:       pool,
		poolSize:   cfg.Toxicity.Workers,
		gate:       gate,
		translator: translator,
		relay:      relaySvc,
		cmds:       cmds,
		digest:     digestSvc,
		messages:   make(chan transport.Message, 256),
	}, nil
}

func openAudit(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Audit == nil {
		return nil, nil
	}
	busy, err := config.Timeout("audit.busy_timeout", cfg.Audit.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Audit.Driver,
		Path:        cfg.Audit.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "audit")))
}

func relayConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		Workers:     cfg.Relay.Workers,
		QueueSize:   cfg.Relay.QueueSize,
		PostsPerSec: float64(cfg.Relay.RatePerSec),
	}
}

// Done is closed when the supervisor context ends (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.messages); err != nil {
		return err
	}

	workers := a.poolSize
	if workers <= 0 {
		workers = 2
	}
	a.pool.Start(a.sup.Context(), workers)
	a.relay.Start(a.sup.Context())

	if err := a.cmds.Register(a.sup.Context()); err != nil {
		return err
	}
	if a.digest != nil {
		if err := a.digest.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sup.Go("relay.dispatch", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return c.Err()
			case msg := <-a.messages:
				a.relay.HandleMessage(c, msg)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
				a.log.Info("config reloaded")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes hot-reloadable knobs into the running services.
// Structural settings (token, registry path, audit driver, digest
// schedule) still need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.EffectiveLevel(),
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	})
	a.logs.SetDiscordTarget(strings.TrimSpace(cfg.Logging.Discord.ChannelID))

	a.gate.Apply(cfg.Toxicity.IsEnabled(), cfg.Logging.ModerationTrace())

	trTimeout, _ := config.Timeout("translation.timeout", cfg.Translation.Timeout, 10*time.Second)
	a.translator.Apply(translate.Config{
		Enabled: cfg.Translation.IsEnabled(),
		URL:     cfg.Translation.URL,
		Timeout: trTimeout,
	})

	a.relay.Apply(relayConfig(cfg))
}

func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return fmt.Errorf("discord.token must be set")
	}
	if cfg.Relay.Workers < 0 {
		return fmt.Errorf("relay.workers must be >= 0")
	}
	if cfg.Toxicity.Workers < 0 {
		return fmt.Errorf("toxicity.workers must be >= 0")
	}
	if _, err := config.Timeout("toxicity.timeout", cfg.Toxicity.Timeout, 0); err != nil {
		return err
	}
	if _, err := config.Timeout("translation.timeout", cfg.Translation.Timeout, 0); err != nil {
		return err
	}
	if cfg.Audit != nil {
		if _, err := config.Timeout("audit.busy_timeout", cfg.Audit.BusyTimeout, 0); err != nil {
			return err
		}
	}
	if cfg.Digest != nil {
		if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
			}
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.digest != nil {
		step("digest", 2*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	}
	step("commands", time.Second, func(context.Context) error { a.cmds.Stop(); return nil })
	step("relay", 2*time.Second, func(context.Context) error { a.relay.Stop(); return nil })
	step("toxicity", time.Second, func(context.Context) error { a.pool.Stop(); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	if a.audit != nil {
		step("audit", time.Second, func(context.Context) error { return a.audit.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
