package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"KnowledgeScanner/internal/ports"
)

// Ticker runs a job immediately and then once per interval.
type Ticker struct {
	interval time.Duration
	loc      *time.Location

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*Ticker)(nil)

// NewTicker builds a ticker; trigger times are reported in loc (UTC when nil).
func NewTicker(interval time.Duration, loc *time.Location) *Ticker {
	if loc == nil {
		loc = time.UTC
	}
	return &Ticker{interval: interval, loc: loc}
}

// Start launches the loop; a second Start while running is a no-op.
// Jobs never overlap: a tick that arrives during a job is dropped by the ticker.
func (t *Ticker) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if t.interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		job(time.Now().In(t.loc))
		for {
			select {
			case now := <-ticker.C:
				job(now.In(t.loc))
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for a running job to return or ctx to expire.
func (t *Ticker) Stop(ctx context.Context) error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
