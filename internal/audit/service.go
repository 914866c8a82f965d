package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelgate/modelgate/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// MinRetentionDays is the compliance floor for administrative cleanup.
	MinRetentionDays = 30

	cleanupBatchSize  = 500
	cleanupMaxBatches = 100
)

// WriteFailureCounter observes audit persistence failures; a missed record is
// an operational alert, never a caller-facing error.
type WriteFailureCounter interface {
	IncAuditWriteFailure()
}

// Entry is the caller-facing description of an auditable event. Context
// fields are copied from the typed request context so services never reach
// into transport state.
type Entry struct {
	Action       Action
	ActorID      *int64
	ActorName    string
	ResourceType string
	ResourceID   string
	Description  string
	Outcome      Outcome
	ErrorMessage string
	Context      shared.RequestContext
	Metadata     map[string]any
}

// Service coordinates audit record writes, queries and cleanup.
type Service struct {
	repo    Repository
	logger  *slog.Logger
	metrics WriteFailureCounter
	clock   func() time.Time
}

// NewService constructs an audit Service. metrics may be nil.
func NewService(repo Repository, logger *slog.Logger, metrics WriteFailureCounter) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Record persists an audit record for the entry. It is fire-and-forget: a
// persistence failure is logged and counted but never propagated, so the
// guarded business operation cannot be blocked or aborted by its audit side
// channel.
func (s *Service) Record(ctx context.Context, e Entry) {
	rec, err := s.build(e)
	if err != nil {
		s.fail(e, err)
		return
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		s.fail(e, err)
	}
}

func (s *Service) build(e Entry) (Record, error) {
	rec, err := NewRecord(e.Action, e.ActorID, e.ActorName, e.Outcome, e.ErrorMessage, s.clock())
	if err != nil {
		return Record{}, err
	}
	rec.ResourceType = e.ResourceType
	rec.ResourceID = e.ResourceID
	if e.Description != "" {
		rec.Description = e.Description
	}
	rec.IP = e.Context.IP
	rec.UserAgent = e.Context.UserAgent
	rec.RequestID = e.Context.RequestID

	metadata := Anonymize(e.Action, e.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 2)
	}
	// The base required fields are always derivable from the request context;
	// remaining required fields are the caller's to supply.
	if _, ok := metadata["user_agent"]; !ok {
		metadata["user_agent"] = e.Context.UserAgent
	}
	if _, ok := metadata["ip_address"]; !ok {
		metadata["ip_address"] = e.Context.IP
	}
	rec.Metadata = metadata
	return rec, nil
}

func (s *Service) fail(e Entry, err error) {
	if s.metrics != nil {
		s.metrics.IncAuditWriteFailure()
	}
	s.logger.Error("audit record dropped",
		slog.String("action", string(e.Action)),
		slog.Any("error", err))
}

// Query returns a filtered page of records plus pagination metadata.
func (s *Service) Query(ctx context.Context, f Filter, page, pageSize int) ([]Record, shared.Pagination, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page <= 0 {
		page = 1
	}
	records, total, err := s.repo.FindWithCount(ctx, f, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return records, shared.NewPagination(page, pageSize, total), nil
}

// Stats aggregates counts for records created at or after since.
func (s *Service) Stats(ctx context.Context, since time.Time) (Stats, error) {
	return s.repo.Stats(ctx, since)
}

// Export returns every record matching the filter, capped at the export
// ceiling, for CSV download.
func (s *Service) Export(ctx context.Context, f Filter) ([]Record, error) {
	records, _, err := s.repo.FindWithCount(ctx, f, 10000, 0)
	return records, err
}

// Cleanup deletes records created before now minus retentionDays, in bounded
// batches. Retention below the compliance floor is rejected. The loop stops
// once a batch comes back short (no more candidates) or the batch budget is
// spent; leftover rows wait for the next run.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < MinRetentionDays {
		return 0, shared.BusinessRule("retention below %d-day compliance floor", MinRetentionDays)
	}
	cutoff := s.clock().AddDate(0, 0, -retentionDays)
	var deleted int64
	for batch := 0; batch < cleanupMaxBatches; batch++ {
		n, err := s.repo.DeleteBefore(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			return deleted, err
		}
		deleted += n
		if n < cleanupBatchSize {
			break
		}
	}
	return deleted, nil
}
