// Package janitor periodically clears stale pending snapshot directories.
//
// Interrupted receptions leave directories under pending/ that no one will
// ever complete. The janitor sweeps every registered store on an interval,
// invoking its PurgePending, which removes pending directories whose id is
// not the committed snapshot's. Overlapping sweeps of the same partition
// are collapsed via callgroup.
package janitor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"flowmill/internal/callgroup"
	"flowmill/internal/logging"
)

// DefaultInterval is used when the configured sweep interval is zero.
const DefaultInterval = 5 * time.Minute

// Target is the purge surface of a partition's snapshot store.
type Target interface {
	Partition() int
	PurgePending() error
}

// Config configures a Janitor.
type Config struct {
	// Interval between sweeps. Defaults to DefaultInterval.
	Interval time.Duration

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger
}

// Janitor sweeps registered stores on a schedule.
type Janitor struct {
	interval  time.Duration
	scheduler gocron.Scheduler
	group     callgroup.Group[int]
	logger    *slog.Logger
}

// New creates a stopped janitor; call Start to begin sweeping.
func New(cfg Config) (*Janitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create janitor scheduler: %w", err)
	}
	return &Janitor{
		interval:  cfg.Interval,
		scheduler: scheduler,
		logger:    logging.Default(cfg.Logger).With("component", "snapshot-janitor"),
	}, nil
}

// Register schedules periodic sweeps of a store. Safe to call before or
// after Start.
func (j *Janitor) Register(target Target) error {
	name := fmt.Sprintf("purge-pending-%d", target.Partition())
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() { j.sweep(target) }),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	j.logger.Info("registered store for pending sweeps",
		"partition", target.Partition(), "interval", j.interval)
	return nil
}

// sweep purges one store, collapsing overlapping sweeps of the same
// partition into a single run.
func (j *Janitor) sweep(target Target) {
	err := j.group.Do(target.Partition(), target.PurgePending)
	if err != nil {
		j.logger.Warn("pending sweep failed", "partition", target.Partition(), "error", err)
	}
}

// Start begins executing scheduled sweeps.
func (j *Janitor) Start() {
	j.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running sweeps to finish.
func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}
