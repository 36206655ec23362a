package config

import (
	"os"
	"strings"
)

type Config struct {
	Discord     DiscordConfig     `json:"discord"`
	Logging     LoggingConfig     `json:"logging"`
	Registry    RegistryConfig    `json:"registry"`
	Toxicity    ToxicityConfig    `json:"toxicity"`
	Translation TranslationConfig `json:"translation"`
	Relay       RelayConfig       `json:"relay"`
	Audit       *AuditConfig      `json:"audit,omitempty"`
	Digest      *DigestConfig     `json:"digest,omitempty"`
}

type DiscordConfig struct {
	// Token may also come from the DISCORD_TOKEN environment variable,
	// which takes precedence over the file.
	Token string `json:"token"`
}

// LoggingConfig controls sinks and verbosity.
//
// Debug is the relay's verbosity knob: none|error|moderation|all.
//   - none:       routine operation at info level
//   - error:      errors only
//   - moderation: info level plus per-message moderation decisions
//   - all:        full debug output
//
// Level, when set, overrides the level derived from Debug.
type LoggingConfig struct {
	Level   string           `json:"level,omitempty"`
	Debug   string           `json:"debug,omitempty"`
	Console bool             `json:"console"`
	File    LogFileConfig    `json:"file"`
	Discord LogDiscordConfig `json:"discord"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LogDiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// RegistryConfig points at the durable registry file (channels, log
// targets, warnings, webhook ids). Created empty on first start.
type RegistryConfig struct {
	Path string `json:"path,omitempty"` // default ./data.json
}

// ToxicityConfig configures the scoring sidecar.
//
// Enabled is a pointer so an omitted field defaults to true
// (spec default) while an explicit false still disables scoring.
type ToxicityConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	URL     string `json:"url,omitempty"`     // default http://localhost:8000
	Timeout string `json:"timeout,omitempty"` // Go duration string, default 10s
	Workers int    `json:"workers,omitempty"` // scoring pool size, default 2
}

type TranslationConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	URL     string `json:"url,omitempty"`     // default http://localhost:5000/translate
	Timeout string `json:"timeout,omitempty"` // Go duration string, default 10s
}

// RelayConfig controls the fan-out worker pool.
type RelayConfig struct {
	Workers    int `json:"workers,omitempty"`      // default 4
	QueueSize  int `json:"queue_size,omitempty"`   // default 256
	RatePerSec int `json:"rate_per_sec,omitempty"` // webhook posts/sec, default 5
}

// AuditConfig controls the optional sqlite relay audit trail.
// Driver "none" (or an omitted section) disables it.
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// DigestConfig controls the scheduled per-guild relay digest.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron expression, default daily at 09:00
	Timezone string `json:"timezone,omitempty"`
}

func (c ToxicityConfig) IsEnabled() bool    { return c.Enabled == nil || *c.Enabled }
func (c TranslationConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// EffectiveLevel maps the Debug enum onto a log level unless an explicit
// Level is set.
func (c LoggingConfig) EffectiveLevel() string {
	if l := strings.TrimSpace(c.Level); l != "" {
		return l
	}
	switch strings.ToLower(strings.TrimSpace(c.Debug)) {
	case "error":
		return "error"
	case "all":
		return "debug"
	default:
		return "info"
	}
}

// ModerationTrace reports whether per-message moderation decisions should
// be logged even when the overall level is info.
func (c LoggingConfig) ModerationTrace() bool {
	switch strings.ToLower(strings.TrimSpace(c.Debug)) {
	case "moderation", "all":
		return true
	}
	return false
}

// applyEnv layers environment overrides over a parsed config. These are
// the historical deployment knobs and win over the file so a unit file
// can flip features without editing config.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DISCORD_TOKEN")); v != "" {
		cfg.Discord.Token = v
	}
	if v, ok := envBool("ENABLE_TOXICITY"); ok {
		cfg.Toxicity.Enabled = &v
	}
	if v, ok := envBool("ENABLE_TRANSLATION"); ok {
		cfg.Translation.Enabled = &v
	}
	if v := strings.TrimSpace(os.Getenv("LIBRETRANSLATE_URL")); v != "" {
		cfg.Translation.URL = v
	}
}

func envBool(key string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
