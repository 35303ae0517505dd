package metric

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Trigger starts a scheduled metrics run.
type Trigger interface {
	TriggerScheduled(ctx context.Context) error
}

// Schedule fires Trigger on a cron spec such as "@daily" or "0 2 * * *".
type Schedule struct {
	cron    *cron.Cron
	trigger Trigger
	logger  *slog.Logger
}

func NewSchedule(spec string, trigger Trigger, logger *slog.Logger) (*Schedule, error) {
	s := &Schedule{cron: cron.New(), trigger: trigger, logger: logger}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("invalid metrics schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Schedule) fire() {
	ctx := context.Background()
	if err := s.trigger.TriggerScheduled(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to trigger scheduled metrics", "error", err)
	}
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Schedule) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
