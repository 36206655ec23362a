package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the relay audit store.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the audit trail is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Relay outcomes recorded per processed message.
const (
	OutcomeRelayed = "relayed"
	OutcomeBlocked = "blocked"
)

// RelayEntry records one processed message.
// Keep it compact and schema-stable.
type RelayEntry struct {
	At           time.Time
	GuildID      string
	ChannelID    string
	AuthorID     string
	Outcome      string
	Destinations int
	Failures     int
}

// Totals aggregates relayed/blocked counts for a window.
type Totals struct {
	Relayed int64
	Blocked int64
}
