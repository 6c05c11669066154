// Package retention evicts stale pending messages on a cron schedule. A
// message that sat in the queue longer than the configured age is assumed
// dead: the recipient never wrote in, and delivering it weeks later would
// do more harm than dropping it.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/wagate/internal/pending"
)

// Sweeper runs pending.Store.DeleteOlderThan on a cron schedule.
type Sweeper struct {
	store    pending.Store
	schedule string
	maxAge   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	now     func() time.Time
}

// New validates the cron expression and builds the sweeper. maxAge must be
// positive.
func New(store pending.Store, schedule string, maxAge time.Duration) (*Sweeper, error) {
	gx := gronx.New()
	if !gx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid cron expression: %s", schedule)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		maxAge:   maxAge,
		now:      time.Now,
	}, nil
}

// Start launches the sweep loop. Idempotent.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	slog.Info("retention sweeper started", "schedule", s.schedule, "max_age", s.maxAge)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	for {
		next, err := gronx.NextTickAfter(s.schedule, s.now(), false)
		if err != nil {
			slog.Error("retention: next tick computation failed", "expr", s.schedule, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.Sweep(ctx)
	}
}

// Sweep deletes everything older than maxAge once. Exposed so an operator
// command can trigger it outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.maxAge)
	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("retention sweep evicted stale pending messages", "removed", removed, "cutoff", cutoff)
	}
}
