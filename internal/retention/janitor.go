// Package retention removes expired cache entries on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
)

const (
	DefaultSchedule = "@every 15m"
	defaultTimeout  = 30 * time.Second
)

// Pruner drops demand keys whose score decayed below floor.
type Pruner interface {
	Prune(floor float64) int
}

type Janitor struct {
	purger   cache.Purger
	pruner   Pruner
	floor    float64
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Janitor)

func WithSchedule(spec string) Option {
	return func(j *Janitor) {
		if spec != "" {
			j.schedule = spec
		}
	}
}

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(j *Janitor) {
		if c != nil {
			j.cron = c
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) {
		if l != nil {
			j.log = l
		}
	}
}

// WithPruner also forgets cold demand keys on every run.
func WithPruner(p Pruner, floor float64) Option {
	return func(j *Janitor) {
		j.pruner = p
		j.floor = floor
	}
}

func WithTimeout(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// New returns a janitor for purger. A nil purger is allowed; runs then only prune.
func New(purger cache.Purger, opts ...Option) *Janitor {
	j := &Janitor{
		purger:   purger,
		schedule: DefaultSchedule,
		timeout:  defaultTimeout,
		now:      time.Now,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.cron == nil {
		j.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return j
}

// Start registers the purge job and launches the scheduler.
func (j *Janitor) Start() error {
	if j.purger == nil && j.pruner == nil {
		return nil
	}
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		if err := j.RunOnce(ctx); err != nil {
			j.log.Warn("retention run failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.log.Info("retention scheduled", "schedule", j.schedule)
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs finish.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// RunOnce purges expired entries and prunes cold demand keys.
func (j *Janitor) RunOnce(ctx context.Context) error {
	var errs []error
	if j.purger != nil {
		n, err := j.purger.PurgeExpired(ctx, j.now())
		observability.AddRetentionPurged(n, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge expired: %w", err))
		} else if n > 0 {
			j.log.Info("purged expired cache entries", "removed", n)
		}
	}
	if j.pruner != nil {
		if n := j.pruner.Prune(j.floor); n > 0 {
			j.log.Debug("pruned cold demand keys", "removed", n)
		}
	}
	return errors.Join(errs...)
}
