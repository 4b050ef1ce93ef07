package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/pkg/eventbus"
	"github.com/privateness-network/bot-access/pkg/model"
)

// ReservationReleaser is the subset of the ledger store the sweeper needs.
type ReservationReleaser interface {
	ReleaseStaleReservations(ctx context.Context, cutoff time.Time) (int, error)
}

// Pruner drops idle per-key state, e.g. the verify throttle buckets.
type Pruner interface {
	Prune(idle time.Duration) int
}

// ReservationSweeper periodically releases ledger reservations that were never
// consumed, which only happens when a verification died between reserve and record.
type ReservationSweeper struct {
	logger   *zap.Logger
	store    ReservationReleaser
	bus      *eventbus.EventBus[model.AccessEvent]
	pruners  []Pruner
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReservationSweeper constructs the job. Reservations older than ttl are released every interval.
func NewReservationSweeper(logger *zap.Logger, store ReservationReleaser, bus *eventbus.EventBus[model.AccessEvent], interval, ttl time.Duration, pruners ...Pruner) *ReservationSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationSweeper{
		logger:   logger,
		store:    store,
		bus:      bus,
		pruners:  pruners,
		interval: interval,
		ttl:      ttl,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *ReservationSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("reservation_sweeper.started",
		zap.Duration("interval", s.interval),
		zap.Duration("ttl", s.ttl))

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("reservation_sweeper.stopped (manual stop)")
			return
		case <-ctx.Done():
			s.logger.Info("reservation_sweeper.stopped (context canceled)")
			return
		}
	}
}

// Stop halts the sweeper. Safe to call more than once.
func (s *ReservationSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// runOnce executes one sweep cycle and returns the number of released reservations.
func (s *ReservationSweeper) runOnce(ctx context.Context) int {
	start := s.now()
	cutoff := start.Add(-s.ttl)

	n, err := s.store.ReleaseStaleReservations(ctx, cutoff)
	if err != nil {
		s.logger.Error("reservation_sweeper.sweep_failed", zap.Error(err))
		metrics.IncError("reservation_sweeper", "sweep_failed")
		return 0
	}
	metrics.AddSwept(n, start)

	for _, p := range s.pruners {
		if pruned := p.Prune(s.interval); pruned > 0 {
			s.logger.Debug("reservation_sweeper.pruned", zap.Int("count", pruned))
		}
	}

	if n == 0 {
		return 0
	}

	s.logger.Warn("reservation_sweeper.released",
		zap.Int("count", n),
		zap.Time("cutoff", cutoff))

	if s.bus != nil {
		s.bus.Publish(model.AccessEvent{
			ID:         uuid.New(),
			Type:       model.EventReservationsSwept,
			Reason:     model.ReasonNone,
			OccurredAt: start.UTC(),
		})
	}
	return n
}
