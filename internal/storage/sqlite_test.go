package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/Shirozy/Globot/pkg/logx"
)

func openTest(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "audit.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled store: got %v, %v", st, err)
	}
	st, err = Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("empty driver: got %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestRecordAndTotals(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	now := time.Now()

	entries := []RelayEntry{
		{At: now, GuildID: "g1", ChannelID: "c1", AuthorID: "u1", Outcome: OutcomeRelayed, Destinations: 2},
		{At: now, GuildID: "g1", ChannelID: "c1", AuthorID: "u2", Outcome: OutcomeBlocked},
		{At: now, GuildID: "g2", ChannelID: "c2", AuthorID: "u3", Outcome: OutcomeRelayed, Destinations: 1, Failures: 1},
		{At: now.Add(-48 * time.Hour), GuildID: "g1", ChannelID: "c1", AuthorID: "u1", Outcome: OutcomeRelayed},
	}
	for _, e := range entries {
		if err := st.RecordRelay(ctx, e); err != nil {
			t.Fatalf("RecordRelay: %v", err)
		}
	}

	tot, err := st.Totals(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if tot.Relayed != 2 || tot.Blocked != 1 {
		t.Fatalf("totals: got %+v, want 2 relayed / 1 blocked", tot)
	}

	gt, err := st.GuildTotals(ctx, "g1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GuildTotals: %v", err)
	}
	if gt.Relayed != 1 || gt.Blocked != 1 {
		t.Fatalf("guild totals: got %+v, want 1/1", gt)
	}

	// Old rows excluded by the window, included with a wider one.
	all, err := st.Totals(ctx, now.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("Totals wide: %v", err)
	}
	if all.Relayed != 3 {
		t.Fatalf("wide totals: got %+v, want 3 relayed", all)
	}
}
