package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/storage"
)

// Runner runs periodic maintenance jobs
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context //nolint:containedctx // handed to every job run
}

// specParser accepts 5 or 6 field specs and descriptors such as "@every 1h"
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithParser(specParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		job(r.baseCtx)
	})
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

// SweepScratch returns a job that deletes scratch files older than maxAge.
// It cleans up after conversions interrupted by a crash.
func SweepScratch(fs *storage.FileStorage, maxAge time.Duration, logger *zap.Logger) func(context.Context) {
	return func(ctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		removed, err := fs.SweepStale(maxAge)
		if err != nil {
			logger.Warn("scratch sweep failed", zap.String("dir", fs.Dir()), zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("scratch sweep", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
		}
	}
}
