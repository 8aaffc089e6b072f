package invitation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

// DefaultSweepSchedule runs the sweeper at the top of every hour.
const DefaultSweepSchedule = "@hourly"

// Purger deletes dead codes.
type Purger interface {
	PurgeDead(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper periodically deletes codes that expired without being used or bound.
type Sweeper struct {
	purger   Purger
	schedule string
	timeout  time.Duration
	now      func() time.Time
	cron     *cron.Cron
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewSweeper creates a sweeper. An empty schedule selects
// DefaultSweepSchedule; metrics may be nil.
func NewSweeper(purger Purger, schedule string, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		purger:   purger,
		schedule: schedule,
		timeout:  time.Minute,
		now:      time.Now,
		cron:     cron.New(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Start schedules the sweep and starts the cron runner.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("invitation sweeper started")
	return nil
}

// Stop stops the runner and waits for a running sweep, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep purges dead codes once.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	purged, err := s.purger.PurgeDead(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.InvitationsPurgedTotal.Add(float64(purged))
	}
	return purged, nil
}

func (s *Sweeper) run() {
	defer observability.RecoverPanic(s.logger, "invitation sweeper")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	purged, err := s.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("invitation sweep failed")
		return
	}
	s.logger.WithField("purged", purged).Info("invitation sweep completed")
}
