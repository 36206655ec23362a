package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/Shirozy/Globot/pkg/logx"

	"github.com/Shirozy/Globot/internal/registry"
	"github.com/Shirozy/Globot/internal/storage"
	"github.com/Shirozy/Globot/internal/transport"
)

// Gate decides whether a message may be relayed. A true return means the
// message was blocked and already handled.
type Gate interface {
	Check(ctx context.Context, msg transport.Message) bool
}

// Translator rewrites text into a target language, returning the input
// unchanged when translation is off or fails.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) string
}

// Config tunes the fan-out stage.
type Config struct {
	Workers     int           `json:"workers"`
	QueueSize   int           `json:"queue_size"`
	PostsPerSec float64       `json:"posts_per_sec"`
	PostBurst   int           `json:"post_burst"`
	PostTimeout time.Duration `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 8
	}
	if c.PostsPerSec <= 0 {
		c.PostsPerSec = 20
	}
	if c.PostBurst <= 0 {
		c.PostBurst = 5
	}
	if c.PostTimeout <= 0 {
		c.PostTimeout = 15 * time.Second
	}
	return c
}

type destination struct {
	channelID string
	content   string
}

type relayJob struct {
	msg        transport.Message
	sourceLang string
}

// Service routes accepted messages to every other registered channel,
// translating per destination language and posting through cached
// webhooks. Moderation, translation and posting all run on a bounded
// worker pool behind a shared rate limiter, so one slow upstream call
// holds up a single worker instead of the whole event stream.
type Service struct {
	log       logx.Logger
	reg       *registry.Store
	gate      Gate
	tr        Translator
	endpoints *EndpointCache
	audit     storage.Store
	selfID    func() string

	cfg     Config
	limiter *rate.Limiter

	mu      sync.Mutex
	started bool
	queue   chan relayJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func New(cfg Config, reg *registry.Store, gate Gate, tr Translator, endpoints *EndpointCache, audit storage.Store, selfID func() string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:       log,
		reg:       reg,
		gate:      gate,
		tr:        tr,
		endpoints: endpoints,
		audit:     audit,
		selfID:    selfID,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.PostsPerSec), cfg.PostBurst),
	}
}

// Start launches the fan-out workers. Safe to call once.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.queue = make(chan relayJob, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.log.Debug("relay workers started", logx.Int("workers", s.cfg.Workers))
}

// Stop halts the workers. Queued jobs are abandoned.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// Apply updates the posting rate limits from a reloaded configuration.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.limiter.SetLimit(rate.Limit(cfg.PostsPerSec))
	s.limiter.SetBurst(cfg.PostBurst)
}

// HandleMessage accepts one inbound message for relaying. Only cheap
// in-memory checks happen here; moderation, translation and posting run
// on the workers so a slow oracle or translator call can't hold up the
// messages behind it. Enqueueing blocks when the pipeline is saturated,
// pushing backpressure onto the gateway instead of losing messages.
func (s *Service) HandleMessage(ctx context.Context, msg transport.Message) {
	if msg.Author.Bot || msg.Author.ID == s.selfID() {
		return
	}

	link, ok := s.reg.Link(msg.ChannelID)
	if !ok {
		return
	}

	s.mu.Lock()
	started := s.started
	queue := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()
	if !started {
		return
	}

	select {
	case queue <- relayJob{msg: msg, sourceLang: link.Language}:
	case <-stopCh:
	case <-ctx.Done():
	}
}

// buildDestinations resolves every registered channel but the source and
// precomputes the content for each, translating at most once per distinct
// target language. Messages carrying links skip translation entirely so
// URLs survive verbatim.
func (s *Service) buildDestinations(ctx context.Context, msg transport.Message, sourceLang string) []destination {
	links := s.reg.Links()
	dests := make([]destination, 0, len(links))
	translatable := s.tr != nil && !containsURL(msg.Content)

	byLang := map[string]string{sourceLang: msg.Content}
	for _, l := range links {
		if l.ChannelID == msg.ChannelID {
			continue
		}
		content, ok := byLang[l.Language]
		if !ok {
			content = msg.Content
			if translatable {
				content = s.tr.Translate(ctx, msg.Content, l.Language)
			}
			byLang[l.Language] = content
		}
		dests = append(dests, destination{channelID: l.ChannelID, content: content})
	}
	return dests
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case job := <-s.queue:
			s.process(ctx, job)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// process runs the pipeline for one message: moderation, per-language
// translation, then one delivery attempt per destination. Failures are
// counted, logged and never retried here.
func (s *Service) process(ctx context.Context, job relayJob) {
	if s.gate != nil && s.gate.Check(ctx, job.msg) {
		s.record(ctx, job.msg, storage.OutcomeBlocked, 0, 0)
		return
	}

	dests := s.buildDestinations(ctx, job.msg, job.sourceLang)
	if len(dests) == 0 {
		return
	}

	failures := 0
	for _, d := range dests {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		postCtx, cancel := context.WithTimeout(ctx, s.cfg.PostTimeout)
		err := s.endpoints.Deliver(postCtx, d.channelID, job.msg.Author, d.content)
		cancel()
		if err != nil {
			failures++
			s.log.Warn("relay delivery failed",
				logx.String("channel", d.channelID),
				logx.Err(err))
		}
	}
	s.record(ctx, job.msg, storage.OutcomeRelayed, len(dests), failures)
}

func (s *Service) record(ctx context.Context, msg transport.Message, outcome string, dests, failures int) {
	if s.audit == nil {
		return
	}
	entry := storage.RelayEntry{
		At:           time.Now(),
		GuildID:      msg.GuildID,
		ChannelID:    msg.ChannelID,
		AuthorID:     msg.Author.ID,
		Outcome:      outcome,
		Destinations: dests,
		Failures:     failures,
	}
	if err := s.audit.RecordRelay(ctx, entry); err != nil {
		s.log.Error("relay audit write failed", logx.Err(err))
	}
}

func containsURL(text string) bool {
	return strings.Contains(text, "http://") || strings.Contains(text, "https://")
}
