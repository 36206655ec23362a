package toxicity

import (
	"context"
	"errors"
	"sync"

	logx "github.com/Shirozy/Globot/pkg/logx"
)

var ErrStopped = errors.New("toxicity: pool stopped")

type job struct {
	text  string
	ctx   context.Context
	reply chan result
}

type result struct {
	score Score
	err   error
}

// Pool funnels scoring calls through a fixed set of workers so a slow or
// compute-heavy classifier cannot stall message handling. Callers still
// await a single result per message.
type Pool struct {
	scorer Scorer
	log    logx.Logger

	mu      sync.Mutex
	queue   chan job
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewPool(scorer Scorer, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{scorer: scorer, log: log}
}

// Start spins up the workers. Idempotent.
func (p *Pool) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.queue = make(chan job, workers*4)
	p.stopCh = make(chan struct{})

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
	p.log.Debug("scoring pool started", logx.Int("workers", workers))
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case j := <-p.queue:
			score, err := p.scorer.Score(j.ctx, j.text)
			select {
			case j.reply <- result{score: score, err: err}:
			case <-j.ctx.Done():
			}
		}
	}
}

// Score enqueues text and awaits the single result. It returns ErrStopped
// when the pool is not running and ctx.Err() on caller cancellation.
func (p *Pool) Score(ctx context.Context, text string) (Score, error) {
	p.mu.Lock()
	started := p.started
	q := p.queue
	stopCh := p.stopCh
	p.mu.Unlock()
	if !started {
		return nil, ErrStopped
	}

	j := job{text: text, ctx: ctx, reply: make(chan result, 1)}
	select {
	case q <- j:
	case <-stopCh:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.score, r.err
	case <-stopCh:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
