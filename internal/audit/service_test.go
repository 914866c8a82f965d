package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/shared"
)

type mockRepo struct {
	saved      []Record
	saveErr    error
	records    []Record
	total      int
	deleteLog  []int
	remaining  int64
	deleteErr  error
	lastFilter Filter
	lastLimit  int
	lastOffset int
}

func (m *mockRepo) Save(ctx context.Context, rec Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, rec)
	return nil
}

func (m *mockRepo) FindWithCount(ctx context.Context, f Filter, limit, offset int) ([]Record, int, error) {
	m.lastFilter = f
	m.lastLimit = limit
	m.lastOffset = offset
	return m.records, m.total, nil
}

func (m *mockRepo) Stats(ctx context.Context, since time.Time) (Stats, error) {
	return Stats{Total: int64(m.total)}, nil
}

func (m *mockRepo) DeleteBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	n := m.remaining
	if n > int64(batchSize) {
		n = int64(batchSize)
	}
	m.remaining -= n
	m.deleteLog = append(m.deleteLog, int(n))
	return n, nil
}

func (m *mockRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return int64(len(ids)), nil
}

func (m *mockRepo) ListForSweep(ctx context.Context, createdAfter time.Time, afterID uuid.UUID, limit int) ([]Record, error) {
	return nil, nil
}

func (m *mockRepo) UpdateTier(ctx context.Context, ids []uuid.UUID, tier Tier) error { return nil }

func (m *mockRepo) MarkCompressed(ctx context.Context, ids []uuid.UUID) error { return nil }

type countingMetrics struct{ failures int }

func (c *countingMetrics) IncAuditWriteFailure() { c.failures++ }

func testEntry(action Action, outcome Outcome, errMsg string) Entry {
	actor := int64(42)
	return Entry{
		Action:       action,
		ActorID:      &actor,
		ActorName:    "ops@example.com",
		Outcome:      outcome,
		ErrorMessage: errMsg,
		Context: shared.RequestContext{
			IP:        "10.0.0.9",
			UserAgent: "go-test",
			RequestID: "req-1",
		},
	}
}

func TestRecordPersistsWithContextFields(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, nil, nil)

	svc.Record(context.Background(), testEntry(ActionUserLogin, OutcomeSuccess, ""))

	require.Len(t, repo.saved, 1)
	rec := repo.saved[0]
	assert.Equal(t, ActionUserLogin, rec.Action)
	assert.Equal(t, "10.0.0.9", rec.IP)
	assert.Equal(t, "go-test", rec.UserAgent)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, "10.0.0.9", rec.Metadata["ip_address"])
	assert.Equal(t, "go-test", rec.Metadata["user_agent"])
	assert.NotEqual(t, uuid.Nil, rec.ID)
}

func TestRecordAnonymizesMetadata(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, nil, nil)

	entry := testEntry(ActionUserLogin, OutcomeSuccess, "")
	entry.Metadata = map[string]any{"password": "hunter2", "login_method": "password"}
	svc.Record(context.Background(), entry)

	require.Len(t, repo.saved, 1)
	assert.Equal(t, "***", repo.saved[0].Metadata["password"])
	assert.Equal(t, "password", repo.saved[0].Metadata["login_method"])
}

func TestRecordRejectsFailureWithoutErrorMessage(t *testing.T) {
	repo := &mockRepo{}
	metrics := &countingMetrics{}
	svc := NewService(repo, nil, metrics)

	svc.Record(context.Background(), testEntry(ActionUserLogin, OutcomeFailure, ""))

	assert.Empty(t, repo.saved)
	assert.Equal(t, 1, metrics.failures)
}

func TestRecordSwallowsPersistenceErrors(t *testing.T) {
	repo := &mockRepo{saveErr: errors.New("connection reset")}
	metrics := &countingMetrics{}
	svc := NewService(repo, nil, metrics)

	// Must not panic or surface the error in any way.
	svc.Record(context.Background(), testEntry(ActionUserDelete, OutcomeSuccess, ""))
	assert.Equal(t, 1, metrics.failures)
}

func TestQueryClampsPaging(t *testing.T) {
	repo := &mockRepo{total: 5}
	svc := NewService(repo, nil, nil)

	_, paging, err := svc.Query(context.Background(), Filter{}, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, paging.Page)
	assert.Equal(t, maxPageSize, repo.lastLimit)
	assert.Equal(t, 0, repo.lastOffset)

	_, _, err = svc.Query(context.Background(), Filter{}, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, repo.lastLimit)
	assert.Equal(t, 20, repo.lastOffset)
}

func TestCleanupRejectsBelowComplianceFloor(t *testing.T) {
	svc := NewService(&mockRepo{}, nil, nil)
	_, err := svc.Cleanup(context.Background(), 20)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrBusinessRule)
}

func TestCleanupDeletesInBoundedBatches(t *testing.T) {
	repo := &mockRepo{remaining: 1200}
	svc := NewService(repo, nil, nil)

	deleted, err := svc.Cleanup(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), deleted)
	// Two full batches and one short final batch stop the loop.
	assert.Equal(t, []int{500, 500, 200}, repo.deleteLog)
}

func TestCleanupStopsOnBatchError(t *testing.T) {
	repo := &mockRepo{deleteErr: errors.New("lock timeout")}
	svc := NewService(repo, nil, nil)

	deleted, err := svc.Cleanup(context.Background(), 90)
	require.Error(t, err)
	assert.Equal(t, int64(0), deleted)
}
