package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
discord:
  token: tok-123
logging:
  debug: moderation
  console: true
registry:
  path: ./state/data.json
toxicity:
  url: http://scorer:8000
  workers: 3
translation:
  enabled: false
relay:
  workers: 6
  rate_per_sec: 10
audit:
  driver: sqlite
  path: ./state/audit.db
digest:
  enabled: true
  schedule: "0 8 * * *"
`

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "tok-123" {
		t.Fatalf("token = %q", cfg.Discord.Token)
	}
	if !cfg.Toxicity.IsEnabled() {
		t.Fatalf("toxicity should default to enabled when omitted")
	}
	if cfg.Translation.IsEnabled() {
		t.Fatalf("translation explicitly disabled")
	}
	if cfg.Relay.Workers != 6 || cfg.Relay.RatePerSec != 10 {
		t.Fatalf("relay = %+v", cfg.Relay)
	}
	if cfg.Audit == nil || cfg.Audit.Driver != "sqlite" {
		t.Fatalf("audit = %+v", cfg.Audit)
	}
	if cfg.Digest == nil || !cfg.Digest.Enabled {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "discord:\n  token: t\n  shard_count: 4\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-tok")
	t.Setenv("ENABLE_TOXICITY", "0")
	t.Setenv("LIBRETRANSLATE_URL", "http://lt:5000/translate")

	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "env-tok" {
		t.Fatalf("token = %q, want env override", cfg.Discord.Token)
	}
	if cfg.Toxicity.IsEnabled() {
		t.Fatalf("ENABLE_TOXICITY=0 should disable toxicity")
	}
	if cfg.Translation.URL != "http://lt:5000/translate" {
		t.Fatalf("translation url = %q", cfg.Translation.URL)
	}
}

func TestEffectiveLevel(t *testing.T) {
	cases := []struct {
		level, debug, want string
		trace              bool
	}{
		{debug: "", want: "info"},
		{debug: "none", want: "info"},
		{debug: "error", want: "error"},
		{debug: "moderation", want: "info", trace: true},
		{debug: "all", want: "debug", trace: true},
		{level: "warn", debug: "all", want: "warn", trace: true},
	}
	for _, tc := range cases {
		lc := LoggingConfig{Level: tc.level, Debug: tc.debug}
		if got := lc.EffectiveLevel(); got != tc.want {
			t.Errorf("level=%q debug=%q: EffectiveLevel = %q, want %q", tc.level, tc.debug, got, tc.want)
		}
		if got := lc.ModerationTrace(); got != tc.trace {
			t.Errorf("debug=%q: ModerationTrace = %v, want %v", tc.debug, got, tc.trace)
		}
	}
}

func TestTimeout(t *testing.T) {
	if d, err := Timeout("x", "", 7); err != nil || d != 7 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := Timeout("x", "250ms", 7); err != nil || d != 250*time.Millisecond {
		t.Fatalf("parsed: %v %v", d, err)
	}
	if d, err := Timeout("x", "0s", 7); err != nil || d != 7 {
		t.Fatalf("zero: %v %v", d, err)
	}
	if _, err := Timeout("x", "soon", 0); err == nil {
		t.Fatalf("expected error for junk duration")
	}
	if _, err := Timeout("x", "-2s", 0); err == nil {
		t.Fatalf("expected error for negative duration")
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	m := NewManager("unused")
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	first := &Config{Discord: DiscordConfig{Token: "first"}}
	second := &Config{Discord: DiscordConfig{Token: "second"}}
	m.publish(first)
	m.publish(second)

	got := <-sub
	if got.Discord.Token != "second" {
		t.Fatalf("got %q, want latest config after drop-oldest", got.Discord.Token)
	}
	select {
	case extra := <-sub:
		t.Fatalf("unexpected extra config %q", extra.Discord.Token)
	default:
	}
}
