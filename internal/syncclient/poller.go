// Package syncclient implements the client half of the synchronization
// protocol: a reconciliation loop that polls one conversation with a
// cursor, adapts its cadence to visibility and error rate, and surfaces a
// connectivity notice after sustained failures. All state is scoped to one
// conversation view; nothing here is process-wide.
package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/dermolink/chat-pipeline/internal/model"
)

// Fetcher pulls messages newer than the cursor. The server side of this
// contract is the sync protocol handler's poll endpoint.
type Fetcher interface {
	Poll(ctx context.Context, conversationID string, afterID int64) ([]model.Message, error)
}

// Config holds poll cadence tuning.
type Config struct {
	Interval      time.Duration // base poll interval
	BackoffFactor float64       // multiplicative backoff on consecutive failures
	BackoffCap    time.Duration
	MaxFailures   int // consecutive failures before the connectivity notice
}

// DefaultConfig is the recommended cadence: 2s base, ×1.5 backoff capped at
// 10s, notice after 5 consecutive failures.
func DefaultConfig() Config {
	return Config{
		Interval:      2 * time.Second,
		BackoffFactor: 1.5,
		BackoffCap:    10 * time.Second,
		MaxFailures:   5,
	}
}

// Poller runs the reconciliation loop for a single conversation view.
type Poller struct {
	fetcher        Fetcher
	conversationID string
	cfg            Config

	// OnMessages receives each non-empty batch, in order, without gaps or
	// repeats. Must be set before Run.
	OnMessages func(msgs []model.Message)

	// OnConnectivity is called with down=true when MaxFailures consecutive
	// polls have failed, and down=false on the next success. Optional.
	OnConnectivity func(down bool)

	mu       sync.Mutex
	cursor   int64
	visible  bool
	failures int
	wake     chan struct{}
}

// New creates a poller starting at cursor 0, visible.
func New(fetcher Fetcher, conversationID string, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg = DefaultConfig()
	}
	return &Poller{
		fetcher:        fetcher,
		conversationID: conversationID,
		cfg:            cfg,
		visible:        true,
		wake:           make(chan struct{}, 1),
	}
}

// Cursor returns the highest message id observed.
func (p *Poller) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// SetVisible pauses the loop entirely while the view is hidden and resumes
// it (with an immediate poll) when it becomes visible again.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	was := p.visible
	p.visible = visible
	p.mu.Unlock()

	if visible && !was {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Run executes the loop until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	interval := p.cfg.Interval

	for {
		if !p.waitVisible(ctx) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		p.mu.Lock()
		cursor := p.cursor
		visible := p.visible
		p.mu.Unlock()
		if !visible {
			continue
		}

		msgs, err := p.fetcher.Poll(ctx, p.conversationID, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			interval = p.backoff(interval)
			p.recordFailure()
			continue
		}

		interval = p.cfg.Interval
		p.recordSuccess(msgs)
	}
}

// waitVisible blocks while the view is hidden. Returns false on ctx done.
func (p *Poller) waitVisible(ctx context.Context) bool {
	for {
		p.mu.Lock()
		visible := p.visible
		p.mu.Unlock()
		if visible {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-p.wake:
		}
	}
}

func (p *Poller) backoff(interval time.Duration) time.Duration {
	next := time.Duration(float64(interval) * p.cfg.BackoffFactor)
	if next > p.cfg.BackoffCap {
		next = p.cfg.BackoffCap
	}
	return next
}

func (p *Poller) recordFailure() {
	p.mu.Lock()
	p.failures++
	notify := p.failures == p.cfg.MaxFailures
	p.mu.Unlock()

	if notify && p.OnConnectivity != nil {
		p.OnConnectivity(true)
	}
}

func (p *Poller) recordSuccess(msgs []model.Message) {
	p.mu.Lock()
	wasDown := p.failures >= p.cfg.MaxFailures
	p.failures = 0
	// The cursor only ever advances; a batch never moves it backwards, so
	// repeated polls cannot re-deliver an observed message.
	if len(msgs) > 0 && msgs[len(msgs)-1].ID > p.cursor {
		p.cursor = msgs[len(msgs)-1].ID
	}
	p.mu.Unlock()

	if wasDown && p.OnConnectivity != nil {
		p.OnConnectivity(false)
	}
	if len(msgs) > 0 && p.OnMessages != nil {
		p.OnMessages(msgs)
	}
}
