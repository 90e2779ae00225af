package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"projectflow/internal/logger"
)

// Scheduler drains the outbox on a cron schedule. A drain that is still
// running when the next tick fires is skipped.
type Scheduler struct {
	outbox     *Outbox
	dispatcher Dispatcher
	timeout    time.Duration
	cron       *cron.Cron
	mu         sync.Mutex
}

// NewScheduler accepts a standard five-field spec or a descriptor such as "@every 30s".
func NewScheduler(o *Outbox, d Dispatcher, spec string, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{outbox: o, dispatcher: d, timeout: timeout, cron: cron.New()}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("outbox schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info().Msg("outbox replay scheduled")
}

// Stop halts the schedule and waits for a running drain to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	if !s.mu.TryLock() {
		logger.Debug().Msg("outbox drain still running, tick skipped")
		return
	}
	defer s.mu.Unlock()
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	rep, err := s.outbox.Drain(ctx, s.dispatcher)
	if err != nil {
		logger.Error().Err(err).Msg("outbox drain failed")
		return
	}
	if rep.Replayed+rep.DeadLettered+rep.Deferred > 0 {
		logger.Info().Int("replayed", rep.Replayed).Int("dead_lettered", rep.DeadLettered).
			Int("deferred", rep.Deferred).Msg("outbox drained")
	}
}
