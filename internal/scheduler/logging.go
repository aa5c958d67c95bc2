package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/eventpay/internal/observability/logger"
	"go.uber.org/zap"
)

// jobRun tallies one scheduler pass. The run id doubles as the request id
// so every log line of the pass, including repository and reconciler logs,
// can be correlated.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time

	expired int
	skipped int
	failed  int
}

type jobRunKey struct{}

// ensureJobRun reuses the run already in ctx, so a job invoked from RunOnce
// does not log twice. owner reports whether this call started the run.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (_ context.Context, run *jobRun, owner bool) {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return ctx, run, false
	}
	run = &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	return obslogger.WithRequestID(ctx, run.runID), run, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("expired_count", run.expired),
		zap.Int("skipped_count", run.skipped),
		zap.Int("error_count", run.failed),
	}
	if run.failed > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logJobError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	run.failed++
	s.logger(ctx).Error(msg, append([]zap.Field{zap.String("job", run.job), zap.Error(err)}, fields...)...)
}
