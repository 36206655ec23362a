package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	logx "github.com/Shirozy/Globot/pkg/logx"
)

// ChannelLink is one channel participating in the relay.
type ChannelLink struct {
	ChannelID string
	GuildID   string
	Language  string
}

// Store is the durable relay registry: channel links, per-guild log
// channels, per-(guild,user) warning counts and cached webhook ids.
//
// The whole registry lives in one JSON file rewritten on every mutation,
// so each mutation is crash-safe on its own (not atomically with others).
// Readers never touch the file; memory is authoritative once loaded.
// All methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	log  logx.Logger
	data fileData
}

// fileData matches the on-disk layout: four top-level maps keyed by
// decimal-string snowflake ids.
type fileData struct {
	Channels map[string]channelRecord  `json:"channels"`
	Logs     map[string]string         `json:"logs"`
	Warnings map[string]map[string]int `json:"warnings"`
	Webhooks map[string]string         `json:"webhooks"`
}

type channelRecord struct {
	Lang      string `json:"lang"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

func emptyData() fileData {
	return fileData{
		Channels: map[string]channelRecord{},
		Logs:     map[string]string{},
		Warnings: map[string]map[string]int{},
		Webhooks: map[string]string{},
	}
}

// Open loads the registry file, creating an empty one if it doesn't exist.
func Open(path string, log logx.Logger) (*Store, error) {
	if path == "" {
		path = "./data.json"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{path: path, log: log, data: emptyData()}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, err
	}

	var d fileData
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	// Tolerate hand-edited files with missing sections.
	if d.Channels == nil {
		d.Channels = map[string]channelRecord{}
	}
	if d.Logs == nil {
		d.Logs = map[string]string{}
	}
	if d.Warnings == nil {
		d.Warnings = map[string]map[string]int{}
	}
	if d.Webhooks == nil {
		d.Webhooks = map[string]string{}
	}
	s.data = d
	return s, nil
}

// saveLocked rewrites the whole file via tmp+rename. Callers hold s.mu.
func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// persistLocked saves and logs loudly on failure. The in-memory mutation is
// kept either way: a write failure breaks durability, not operation.
func (s *Store) persistLocked(op string) {
	if err := s.saveLocked(); err != nil {
		s.log.Error("registry save failed; in-memory state diverges from disk",
			logx.String("op", op), logx.String("path", s.path), logx.Err(err))
	}
}

func (s *Store) Link(channelID string) (ChannelLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.Channels[channelID]
	if !ok {
		return ChannelLink{}, false
	}
	return ChannelLink{ChannelID: r.ChannelID, GuildID: r.GuildID, Language: r.Lang}, true
}

// Links returns all registered channels, ordered by channel id for
// deterministic iteration.
func (s *Store) Links() []ChannelLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelLink, 0, len(s.data.Channels))
	for _, r := range s.data.Channels {
		out = append(out, ChannelLink{ChannelID: r.ChannelID, GuildID: r.GuildID, Language: r.Lang})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func (s *Store) PutLink(channelID, language, guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Channels[channelID] = channelRecord{Lang: language, GuildID: guildID, ChannelID: channelID}
	s.persistLocked("put_link")
}

// RemoveLink reports whether the channel was registered.
func (s *Store) RemoveLink(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Channels[channelID]; !ok {
		return false
	}
	delete(s.data.Channels, channelID)
	s.persistLocked("remove_link")
	return true
}

func (s *Store) LogTarget(guildID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.Logs[guildID]
	return id, ok
}

func (s *Store) SetLogTarget(guildID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Logs[guildID] = channelID
	s.persistLocked("set_log_target")
}

func (s *Store) WarningCount(guildID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Warnings[guildID][userID]
}

// IncrementWarning bumps the warning counter and returns the new count.
// The counter is monotonic; resets are not part of the relay core.
func (s *Store) IncrementWarning(guildID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.data.Warnings[guildID]
	if g == nil {
		g = map[string]int{}
		s.data.Warnings[guildID] = g
	}
	g[userID]++
	s.persistLocked("increment_warning")
	return g[userID]
}

func (s *Store) Endpoint(channelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.Webhooks[channelID]
	return id, ok
}

func (s *Store) SetEndpoint(channelID, webhookID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Webhooks[channelID] = webhookID
	s.persistLocked("set_endpoint")
}

// LanguageCounts returns how many registered channels use each language.
func (s *Store) LanguageCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, r := range s.data.Channels {
		out[r.Lang]++
	}
	return out
}
