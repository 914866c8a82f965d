package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthroughGuard(string, string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func newTestHandler(repo *mockRepo) http.Handler {
	return NewHandler(NewService(repo, nil, nil), nil).Routes(passthroughGuard)
}

type stubEnqueuer struct {
	retentionDays int
	taskID        string
	err           error
}

func (s *stubEnqueuer) EnqueueCleanup(_ context.Context, retentionDays int) (string, error) {
	s.retentionDays = retentionDays
	return s.taskID, s.err
}

func TestListFiltersFromQuery(t *testing.T) {
	actor := int64(7)
	rec, err := NewRecord(ActionUserLogin, &actor, "alice@example.com", OutcomeSuccess, "", time.Now())
	require.NoError(t, err)
	repo := &mockRepo{records: []Record{rec}, total: 1}

	req := httptest.NewRequest(http.MethodGet, "/?actor_id=7&action=auth.login&outcome=success&page=2&page_size=10", nil)
	rr := httptest.NewRecorder()
	newTestHandler(repo).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, repo.lastFilter.ActorID)
	assert.Equal(t, int64(7), *repo.lastFilter.ActorID)
	assert.Equal(t, "auth.login", repo.lastFilter.Action)
	assert.Equal(t, 10, repo.lastLimit)
	assert.Equal(t, 10, repo.lastOffset)

	var body struct {
		Records []struct {
			Action string `json:"action"`
			Level  string `json:"level"`
		} `json:"records"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, "auth.login", body.Records[0].Action)
	assert.Equal(t, string(LevelSecurity), body.Records[0].Level)
	assert.Equal(t, 1, body.Pagination.Total)
}

func TestListRejectsMalformedTimeRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)
	rr := httptest.NewRecorder()
	newTestHandler(&mockRepo{}).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportCSVAuditsItself(t *testing.T) {
	rec, err := NewRecord(ActionRoleDelete, nil, "system", OutcomeSuccess, "", time.Now())
	require.NoError(t, err)
	repo := &mockRepo{records: []Record{rec}, total: 1}

	req := httptest.NewRequest(http.MethodGet, "/export.csv", nil)
	rr := httptest.NewRecorder()
	newTestHandler(repo).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/csv")
	assert.True(t, strings.HasPrefix(rr.Body.String(), "id,created_at,actor_id"))

	require.Len(t, repo.saved, 1)
	assert.Equal(t, ActionAuditExport, repo.saved[0].Action)
}

func TestCleanupBelowFloorIsUnprocessable(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/cleanup", strings.NewReader(`{"retention_days": 7}`))
	rr := httptest.NewRecorder()
	newTestHandler(&mockRepo{}).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestCleanupReportsDeletedAndAudits(t *testing.T) {
	repo := &mockRepo{remaining: 120}
	req := httptest.NewRequest(http.MethodPost, "/cleanup", strings.NewReader(`{"retention_days": 90}`))
	rr := httptest.NewRecorder()
	newTestHandler(repo).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, int64(120), body.Deleted)

	require.Len(t, repo.saved, 1)
	assert.Equal(t, ActionAuditPurge, repo.saved[0].Action)
}

func TestCleanupEnqueuesWhenQueueConfigured(t *testing.T) {
	repo := &mockRepo{remaining: 120}
	queue := &stubEnqueuer{taskID: "task-42"}
	handler := NewHandler(NewService(repo, nil, nil), queue).Routes(passthroughGuard)

	req := httptest.NewRequest(http.MethodPost, "/cleanup", strings.NewReader(`{"retention_days": 90}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	var body struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "task-42", body.TaskID)
	assert.Equal(t, 90, queue.retentionDays)

	// Nothing is deleted inline; the purge request itself is audited.
	require.Len(t, repo.saved, 1)
	assert.Equal(t, ActionAuditPurge, repo.saved[0].Action)
	assert.Equal(t, "task-42", repo.saved[0].Metadata["task_id"])
}

func TestCleanupBelowFloorNeverEnqueues(t *testing.T) {
	queue := &stubEnqueuer{taskID: "task-43"}
	handler := NewHandler(NewService(&mockRepo{}, nil, nil), queue).Routes(passthroughGuard)

	req := httptest.NewRequest(http.MethodPost, "/cleanup", strings.NewReader(`{"retention_days": 7}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Zero(t, queue.retentionDays)
}
