package relay

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	logx "github.com/Shirozy/Globot/pkg/logx"

	"github.com/Shirozy/Globot/internal/registry"
	"github.com/Shirozy/Globot/internal/storage"
	"github.com/Shirozy/Globot/internal/transport"
)

type fakePlatform struct {
	mu       sync.Mutex
	nextID   int
	webhooks map[string]string // webhook id -> channel id
	posts    []fakePost
	execErr  map[string]error // webhook id -> error for next execute
	fetchErr map[string]error

	// fetchGate parks FetchWebhook for a webhook id until the channel is
	// closed; fetchWaiting counts goroutines currently parked.
	fetchGate    map[string]chan struct{}
	fetchWaiting int
}

type fakePost struct {
	webhookID string
	channelID string
	post      transport.WebhookPost
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		webhooks:  map[string]string{},
		execErr:   map[string]error{},
		fetchErr:  map[string]error{},
		fetchGate: map[string]chan struct{}{},
	}
}

func (f *fakePlatform) FetchWebhook(_ context.Context, id string) (transport.Webhook, error) {
	f.mu.Lock()
	gate := f.fetchGate[id]
	if gate != nil {
		f.fetchWaiting++
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fetchErr[id]; ok {
		return transport.Webhook{}, err
	}
	ch, ok := f.webhooks[id]
	if !ok {
		return transport.Webhook{}, transport.ErrNotFound
	}
	return transport.Webhook{ID: id, ChannelID: ch}, nil
}

func (f *fakePlatform) CreateWebhook(_ context.Context, channelID, _ string) (transport.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "wh" + strconv.Itoa(f.nextID)
	f.webhooks[id] = channelID
	return transport.Webhook{ID: id, ChannelID: channelID}, nil
}

func (f *fakePlatform) ExecuteWebhook(_ context.Context, id string, post transport.WebhookPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.execErr[id]; ok {
		delete(f.execErr, id)
		return err
	}
	ch, ok := f.webhooks[id]
	if !ok {
		return transport.ErrNotFound
	}
	f.posts = append(f.posts, fakePost{webhookID: id, channelID: ch, post: post})
	return nil
}

func (f *fakePlatform) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func (f *fakePlatform) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID
}

func (f *fakePlatform) waitingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchWaiting
}

func (f *fakePlatform) postsFor(channelID string) []fakePost {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakePost
	for _, p := range f.posts {
		if p.channelID == channelID {
			out = append(out, p)
		}
	}
	return out
}

type fakeGate struct {
	mu     sync.Mutex
	calls  int
	blocks bool
}

func (g *fakeGate) Check(context.Context, transport.Message) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.blocks
}

func (g *fakeGate) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeTranslator struct {
	mu    sync.Mutex
	calls []string // languages requested
	table map[string]string
}

func (t *fakeTranslator) Translate(_ context.Context, text, lang string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, lang)
	if out, ok := t.table[text+"/"+lang]; ok {
		return out
	}
	return text
}

func (t *fakeTranslator) langCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.RelayEntry
}

func (a *fakeAudit) RecordRelay(_ context.Context, e storage.RelayEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *fakeAudit) Totals(context.Context, time.Time) (storage.Totals, error) {
	return storage.Totals{}, nil
}

func (a *fakeAudit) GuildTotals(context.Context, string, time.Time) (storage.Totals, error) {
	return storage.Totals{}, nil
}

func (a *fakeAudit) Close() error { return nil }

func (a *fakeAudit) snapshot() []storage.RelayEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]storage.RelayEntry(nil), a.entries...)
}

func openStore(t *testing.T) *registry.Store {
	t.Helper()
	st, err := registry.Open(filepath.Join(t.TempDir(), "data.json"), logx.Nop())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	return st
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func newService(t *testing.T, reg *registry.Store, platform *fakePlatform, gate Gate, tr Translator, audit storage.Store) *Service {
	t.Helper()
	ep := NewEndpointCache(reg, platform, logx.Nop())
	svc := New(Config{Workers: 2, PostsPerSec: 1000, PostBurst: 100}, reg, gate, tr, ep, audit, func() string { return "self" }, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		svc.Stop()
		cancel()
	})
	return svc
}

func msgIn(channel, author, content string) transport.Message {
	return transport.Message{
		ID:        "m1",
		ChannelID: channel,
		GuildID:   "g1",
		Author:    transport.Author{ID: author, Username: "ann"},
		Content:   content,
	}
}

func TestFanOutSkipsSourceChannel(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "en", "g1")
	reg.PutLink("c3", "en", "g2")

	platform := newFakePlatform()
	svc := newService(t, reg, platform, nil, nil, nil)

	svc.HandleMessage(context.Background(), msgIn("c1", "u1", "hello there"))

	waitFor(t, func() bool { return platform.postCount() == 2 })
	if got := platform.postsFor("c1"); len(got) != 0 {
		t.Fatalf("source channel received %d posts, want 0", len(got))
	}
	if len(platform.postsFor("c2")) != 1 || len(platform.postsFor("c3")) != 1 {
		t.Fatalf("expected exactly one post per other channel")
	}
}

func TestUnregisteredChannelIsIgnored(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")

	platform := newFakePlatform()
	gate := &fakeGate{}
	svc := newService(t, reg, platform, gate, nil, nil)

	svc.HandleMessage(context.Background(), msgIn("c9", "u1", "hello"))

	time.Sleep(50 * time.Millisecond)
	if platform.postCount() != 0 {
		t.Fatalf("got %d posts, want 0", platform.postCount())
	}
	if gate.callCount() != 0 {
		t.Fatalf("gate consulted for unregistered channel")
	}
}

func TestBotAndSelfAuthorsSkipped(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "en", "g1")

	platform := newFakePlatform()
	svc := newService(t, reg, platform, nil, nil, nil)

	m := msgIn("c1", "u1", "hello")
	m.Author.Bot = true
	svc.HandleMessage(context.Background(), m)

	m = msgIn("c1", "self", "hello")
	svc.HandleMessage(context.Background(), m)

	time.Sleep(50 * time.Millisecond)
	if platform.postCount() != 0 {
		t.Fatalf("got %d posts, want 0", platform.postCount())
	}
}

func TestBlockedMessageNotRelayed(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "en", "g1")

	platform := newFakePlatform()
	gate := &fakeGate{blocks: true}
	audit := &fakeAudit{}
	svc := newService(t, reg, platform, gate, nil, audit)

	svc.HandleMessage(context.Background(), msgIn("c1", "u1", "you are awful"))

	waitFor(t, func() bool { return len(audit.snapshot()) == 1 })
	if platform.postCount() != 0 {
		t.Fatalf("blocked message was relayed")
	}
	if e := audit.snapshot()[0]; e.Outcome != storage.OutcomeBlocked {
		t.Fatalf("audit outcome = %q, want blocked", e.Outcome)
	}
}

// stallGate holds Check open for messages from one channel until opened.
type stallGate struct {
	stallOn string
	release chan struct{}
	once    sync.Once
}

func (g *stallGate) Check(_ context.Context, msg transport.Message) bool {
	if msg.ChannelID == g.stallOn {
		<-g.release
	}
	return false
}

func (g *stallGate) open() { g.once.Do(func() { close(g.release) }) }

func TestSlowModerationDoesNotStallOtherMessages(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "en", "g1")
	reg.PutLink("c3", "en", "g2")

	platform := newFakePlatform()
	gate := &stallGate{stallOn: "c1", release: make(chan struct{})}
	svc := newService(t, reg, platform, gate, nil, nil)
	// Registered after newService so the gate opens before Stop waits on
	// the parked worker.
	t.Cleanup(gate.open)

	// The first message parks one worker inside the moderation check.
	svc.HandleMessage(context.Background(), msgIn("c1", "u1", "slow one"))
	// The second must still flow through a free worker.
	svc.HandleMessage(context.Background(), msgIn("c2", "u2", "quick one"))

	waitFor(t, func() bool {
		return len(platform.postsFor("c1")) == 1 && len(platform.postsFor("c3")) == 1
	})
	if platform.postCount() != 2 {
		t.Fatalf("got %d posts before release, want 2", platform.postCount())
	}

	gate.open()
	waitFor(t, func() bool { return platform.postCount() == 4 })
}

func TestTranslatesOncePerLanguage(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "es", "g1")
	reg.PutLink("c3", "es", "g2")
	reg.PutLink("c4", "fr", "g2")

	platform := newFakePlatform()
	tr := &fakeTranslator{table: map[string]string{
		"hello/es": "hola",
		"hello/fr": "bonjour",
	}}
	svc := newService(t, reg, platform, nil, tr, nil)

	svc.HandleMessage(context.Background(), msgIn("c1", "u1", "hello"))

	waitFor(t, func() bool { return platform.postCount() == 3 })

	calls := tr.langCalls()
	if len(calls) != 2 {
		t.Fatalf("translator called %d times, want 2 (got %v)", len(calls), calls)
	}
	for _, ch := range []string{"c2", "c3"} {
		posts := platform.postsFor(ch)
		if len(posts) != 1 || posts[0].post.Content != "hola" {
			t.Fatalf("channel %s: got %+v, want hola", ch, posts)
		}
	}
	if posts := platform.postsFor("c4"); len(posts) != 1 || posts[0].post.Content != "bonjour" {
		t.Fatalf("channel c4: got %+v, want bonjour", posts)
	}
}

func TestSameLanguageNotTranslated(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "en", "g1")

	platform := newFakePlatform()
	tr := &fakeTranslator{}
	svc := newService(t, reg, platform, nil, tr, nil)

	svc.HandleMessage(context.Background(), msgIn("c1", "u1", "hello"))

	waitFor(t, func() bool { return platform.postCount() == 1 })
	if calls := tr.langCalls(); len(calls) != 0 {
		t.Fatalf("translator called for same-language destination: %v", calls)
	}
}

func TestURLContentSkipsTranslation(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "es", "g1")

	platform := newFakePlatform()
	tr := &fakeTranslator{}
	svc := newService(t, reg, platform, nil, tr, nil)

	content := "check https://example.com/page out"
	svc.HandleMessage(context.Background(), msgIn("c1", "u1", content))

	waitFor(t, func() bool { return platform.postCount() == 1 })
	if calls := tr.langCalls(); len(calls) != 0 {
		t.Fatalf("translator called for link-bearing message: %v", calls)
	}
	if posts := platform.postsFor("c2"); posts[0].post.Content != content {
		t.Fatalf("content altered: %q", posts[0].post.Content)
	}
}

func TestWebhookReusedAcrossMessages(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "en", "g1")

	platform := newFakePlatform()
	svc := newService(t, reg, platform, nil, nil, nil)

	svc.HandleMessage(context.Background(), msgIn("c1", "u1", "first"))
	waitFor(t, func() bool { return platform.postCount() == 1 })
	svc.HandleMessage(context.Background(), msgIn("c1", "u1", "second"))
	waitFor(t, func() bool { return platform.postCount() == 2 })

	if platform.createCount() != 1 {
		t.Fatalf("created %d webhooks, want 1", platform.createCount())
	}
	if id, ok := reg.Endpoint("c2"); !ok || id == "" {
		t.Fatalf("webhook id not persisted for c2")
	}
}

func TestRelayedAuditEntryCountsFailures(t *testing.T) {
	reg := openStore(t)
	reg.PutLink("c1", "en", "g1")
	reg.PutLink("c2", "en", "g1")
	reg.PutLink("c3", "en", "g1")

	platform := newFakePlatform()
	audit := &fakeAudit{}
	svc := newService(t, reg, platform, nil, nil, audit)

	// Pre-provision c2's webhook and arm a permission failure on it.
	wh, err := platform.CreateWebhook(context.Background(), "c2", "Globot")
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	reg.SetEndpoint("c2", wh.ID)
	platform.mu.Lock()
	platform.execErr[wh.ID] = transport.ErrForbidden
	platform.mu.Unlock()

	svc.HandleMessage(context.Background(), msgIn("c1", "u1", "hello"))

	waitFor(t, func() bool { return len(audit.snapshot()) == 1 })
	e := audit.snapshot()[0]
	if e.Outcome != storage.OutcomeRelayed || e.Destinations != 2 || e.Failures != 1 {
		t.Fatalf("audit entry = %+v, want relayed with 2 destinations and 1 failure", e)
	}
	if platform.postCount() != 1 {
		t.Fatalf("got %d successful posts, want 1", platform.postCount())
	}
}

func TestDisplayNameTruncated(t *testing.T) {
	a := transport.Author{Username: strings.Repeat("x", 40)}
	if got := displayName(a); len([]rune(got)) != 32 {
		t.Fatalf("display name length = %d, want 32", len([]rune(got)))
	}
	a = transport.Author{Username: "ann", DisplayName: "Annie"}
	if got := displayName(a); got != "Annie" {
		t.Fatalf("display name = %q, want Annie", got)
	}
}
