package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/clock"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobExpireSessions = "expire_sessions"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Reconcile domain.ReconcileService
	Config    Config `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	reconcile domain.ReconcileService
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.Reconcile == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		reconcile: p.Reconcile,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}

	err := fn(ctx)
	if owner {
		if err != nil && run.failed == 0 {
			run.failed++
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout, the next run picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{jobExpireSessions, func(ctx context.Context) error {
			return s.runJob(ctx, jobExpireSessions, s.cfg.BatchSize, 30*time.Second, s.ExpireStaleSessionsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireStaleSessionsJob fails pending checkouts whose provider callback
// never arrived, so the attendance can start a fresh session. Each row is
// moved only at the version it was listed with; a row that changed in the
// meantime is skipped. A late paid callback still applies afterwards.
func (s *Scheduler) ExpireStaleSessionsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobExpireSessions, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	cutoff := s.clock.Now().Add(-s.cfg.StaleSessionAfter)
	seen := make(map[snowflake.ID]struct{})
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		items, err := s.repo.ListStalePending(ctx, s.db, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.logJobError(ctx, run, "scheduler.payment.list.failed", err)
			return errors.Join(jobErr, err)
		}

		fresh := 0
		for _, item := range items {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			fresh++

			if err := s.expire(ctx, item); err != nil {
				switch {
				case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrInvalidTransition):
					run.skipped++
				default:
					jobErr = errors.Join(jobErr, err)
					s.logJobError(ctx, run, "scheduler.payment.expire.failed", err,
						zap.String("payment_id", item.ID.String()),
					)
				}
				continue
			}
			run.expired++
		}

		if fresh == 0 || len(items) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) expire(ctx context.Context, item domain.Payment) error {
	version := item.Version
	_, err := s.reconcile.Transition(ctx, domain.TransitionRequest{
		PaymentID:       item.ID,
		To:              domain.StatusFailed,
		ExpectedVersion: &version,
		Source:          domain.SourceProvider,
	})
	if err != nil {
		return err
	}
	s.logger(ctx).Info("stale checkout expired",
		zap.String("payment_id", item.ID.String()),
		zap.String("attendance_id", item.AttendanceID.String()),
		zap.Time("last_updated_at", item.UpdatedAt),
	)
	return nil
}
