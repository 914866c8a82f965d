package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/modelgate/modelgate/internal/audit"
	jobmetrics "github.com/modelgate/modelgate/internal/jobs"
)

const (
	defaultSweepBatchSize  = 500
	defaultSweepMaxBatches = 20
)

// LifecycleSweepJob walks the audit trail oldest-first, advancing storage
// tiers, compressing archive-tier records and deleting records past their
// class retention. Every operation is re-entrant: an aborted run leaves
// records in a consistent state and the next run picks them up again.
type LifecycleSweepJob struct {
	Repo    audit.Repository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLifecycleSweepJob initialises the sweep handler.
func NewLifecycleSweepJob(repo audit.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *LifecycleSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleSweepJob{
		Repo:    repo,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep run.
func (j *LifecycleSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Repo == nil {
		return errors.New("lifecycle sweep: handler not configured")
	}
	var payload LifecycleSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = defaultSweepBatchSize
	}
	if payload.MaxBatches <= 0 {
		payload.MaxBatches = defaultSweepMaxBatches
	}

	tracker := j.Metrics.Track(TaskAuditLifecycleSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.clock()
	logger := j.Logger.With(slog.Int("batch_size", payload.BatchSize))
	logger.Info("starting audit lifecycle sweep")

	var archived, compressed, deleted int
	cursor := time.Time{}
	var cursorID uuid.UUID
	for batch := 0; batch < payload.MaxBatches; batch++ {
		records, err := j.Repo.ListForSweep(ctx, cursor, cursorID, payload.BatchSize)
		if err != nil {
			resultErr = err
			logger.Error("sweep page failed", slog.Any("error", err))
			return resultErr
		}
		if len(records) == 0 {
			break
		}
		// Keyset cursor: timestamp ties within a page boundary resume at
		// the next id instead of being skipped.
		last := records[len(records)-1]
		cursor, cursorID = last.CreatedAt, last.ID

		plan := audit.GeneratePlan(records, now)
		if err := j.apply(ctx, plan); err != nil {
			resultErr = err
			logger.Error("sweep batch aborted", slog.Any("error", err))
			return resultErr
		}
		archived += len(plan.Archive)
		compressed += len(plan.Compress)
		deleted += len(plan.Delete)

		if len(records) < payload.BatchSize {
			break
		}
	}

	j.Metrics.AddTransitions("archive", archived)
	j.Metrics.AddTransitions("compress", compressed)
	j.Metrics.AddTransitions("delete", deleted)
	logger.Info("audit lifecycle sweep finished",
		slog.Int("archived", archived),
		slog.Int("compressed", compressed),
		slog.Int("deleted", deleted),
	)
	return nil
}

// apply executes a sweep plan. Tier moves happen before compression marks so
// a record deleted mid-apply is never left compressed in a hot tier.
func (j *LifecycleSweepJob) apply(ctx context.Context, plan audit.Plan) error {
	for tier, ids := range plan.Retier {
		if len(ids) == 0 {
			continue
		}
		if err := j.Repo.UpdateTier(ctx, ids, tier); err != nil {
			return err
		}
	}
	if len(plan.Compress) > 0 {
		if err := j.Repo.MarkCompressed(ctx, plan.Compress); err != nil {
			return err
		}
	}
	if len(plan.Delete) > 0 {
		if _, err := j.Repo.DeleteByIDs(ctx, plan.Delete); err != nil {
			return err
		}
	}
	return nil
}

// CleanupJob runs an explicit retention cleanup from the queue.
type CleanupJob struct {
	Service *audit.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCleanupJob initialises the cleanup handler.
func NewCleanupJob(svc *audit.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{Service: svc, Logger: logger, Metrics: metrics}
}

// Handle executes one cleanup run.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("audit cleanup: handler not configured")
	}
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskAuditCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	deleted, err := j.Service.Cleanup(ctx, payload.RetentionDays)
	if err != nil {
		resultErr = err
		j.Logger.Error("audit cleanup failed", slog.Any("error", err))
		return resultErr
	}
	j.Metrics.AddTransitions("delete", int(deleted))
	j.Logger.Info("audit cleanup finished",
		slog.Int("retention_days", payload.RetentionDays),
		slog.Int64("deleted", deleted),
	)
	return nil
}
