package cronrunner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Switches reports whether a DB feature switch is on.
type Switches interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

type Runner struct {
	cron     *cron.Cron
	logger   *zap.Logger
	baseCtx  context.Context
	switches Switches
}

func New(logger *zap.Logger, baseCtx context.Context, switches Switches) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	cl := zapCronLogger{logger: logger}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:   logger,
		baseCtx:  baseCtx,
		switches: switches,
	}
}

// Add registers job under name. When switchKey is set the job only runs
// while that switch is enabled.
func (r *Runner) Add(name, spec, switchKey string, job func(context.Context) error) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		r.run(name, switchKey, job)
	})
}

func (r *Runner) run(name, switchKey string, job func(context.Context) error) {
	ctx := r.baseCtx
	if ctx.Err() != nil {
		return
	}
	if switchKey != "" && r.switches != nil && !r.switches.IsEnabled(ctx, switchKey, true) {
		return
	}
	start := time.Now()
	err := job(ctx)
	if r.logger == nil {
		return
	}
	if err != nil {
		r.logger.Warn("cron job failed", zap.String("job", name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	r.logger.Debug("cron job done", zap.String("job", name), zap.Duration("took", time.Since(start)))
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	}
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	if r.logger != nil {
		r.logger.Info("cron stopped")
	}
}

type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Sugar().Debugw(msg, keysAndValues...)
	}
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
	}
}
