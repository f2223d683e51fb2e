package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/pkg/logger"
)

const (
	defaultSweepSpec = "@every 10s"
	defaultPurgeSpec = "@hourly"
)

// PopupSweeper resolves popups that stopped answering.
type PopupSweeper interface {
	Sweep() int
}

// CachePurger removes expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: closing popups whose window went away
// without telling us, and purging expired cache rows.
type Cleaner struct {
	popups  PopupSweeper
	cache   CachePurger
	cron    *cron.Cron
	log     *zap.Logger
	enabled bool

	sweepSchedule string
	purgeSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSweepSchedule overrides the cron specification for the popup sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// WithPurgeSchedule overrides the cron specification for the cache purge.
func WithPurgeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.purgeSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the corresponding job.
func NewCleaner(popups PopupSweeper, cache CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		popups:        popups,
		cache:         cache,
		sweepSchedule: defaultSweepSpec,
		purgeSchedule: defaultPurgeSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.popups != nil || cleaner.cache != nil

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.popups != nil {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			if closed := c.popups.Sweep(); closed > 0 {
				c.log.Info("closed unresponsive popups", zap.Int("count", closed))
			}
		}); err != nil {
			return err
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.purgeSchedule, func() {
			if _, err := c.cache.PurgeExpired(context.Background()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.popups != nil {
		c.popups.Sweep()
	}

	if c.cache != nil {
		if _, err := c.cache.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
