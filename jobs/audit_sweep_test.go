package jobs

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/audit"
)

var sweepNow = time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

type sweepRepo struct {
	records    map[uuid.UUID]*audit.Record
	listErr    error
	tierErr    error
	pagesSeen  int
	compressed []uuid.UUID
	deleted    []uuid.UUID
}

func newSweepRepo(records ...audit.Record) *sweepRepo {
	repo := &sweepRepo{records: make(map[uuid.UUID]*audit.Record)}
	for i := range records {
		rec := records[i]
		repo.records[rec.ID] = &rec
	}
	return repo
}

func (r *sweepRepo) Save(_ context.Context, rec audit.Record) error {
	r.records[rec.ID] = &rec
	return nil
}

func (r *sweepRepo) FindWithCount(_ context.Context, _ audit.Filter, _, _ int) ([]audit.Record, int, error) {
	return nil, 0, nil
}

func (r *sweepRepo) Stats(_ context.Context, _ time.Time) (audit.Stats, error) {
	return audit.Stats{}, nil
}

func (r *sweepRepo) DeleteBefore(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var n int64
	for id, rec := range r.records {
		if int(n) >= batchSize {
			break
		}
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

func (r *sweepRepo) DeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := r.records[id]; ok {
			delete(r.records, id)
			r.deleted = append(r.deleted, id)
			n++
		}
	}
	return n, nil
}

func sweepKeyLess(aT time.Time, aID uuid.UUID, bT time.Time, bID uuid.UUID) bool {
	if !aT.Equal(bT) {
		return aT.Before(bT)
	}
	return bytes.Compare(aID[:], bID[:]) < 0
}

func (r *sweepRepo) ListForSweep(_ context.Context, createdAfter time.Time, afterID uuid.UUID, limit int) ([]audit.Record, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.pagesSeen++
	var out []audit.Record
	for _, rec := range r.records {
		if sweepKeyLess(createdAfter, afterID, rec.CreatedAt, rec.ID) {
			out = append(out, *rec)
		}
	}
	// Oldest first with id tiebreak, as the real query orders the keyset.
	for i := 0; i < len(out); i++ {
		for k := i + 1; k < len(out); k++ {
			if sweepKeyLess(out[k].CreatedAt, out[k].ID, out[i].CreatedAt, out[i].ID) {
				out[i], out[k] = out[k], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *sweepRepo) UpdateTier(_ context.Context, ids []uuid.UUID, tier audit.Tier) error {
	if r.tierErr != nil {
		return r.tierErr
	}
	for _, id := range ids {
		if rec, ok := r.records[id]; ok {
			rec.StorageTier = tier
		}
	}
	return nil
}

func (r *sweepRepo) MarkCompressed(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if rec, ok := r.records[id]; ok {
			rec.Compressed = true
			r.compressed = append(r.compressed, id)
		}
	}
	return nil
}

func agedRecord(t *testing.T, action audit.Action, ageDays int) audit.Record {
	t.Helper()
	rec, err := audit.NewRecord(action, nil, "system", audit.OutcomeSuccess, "", sweepNow.AddDate(0, 0, -ageDays))
	require.NoError(t, err)
	return rec
}

func sweepTask(t *testing.T, payload LifecycleSweepPayload) *asynq.Task {
	t.Helper()
	task, err := NewLifecycleSweepTask(payload)
	require.NoError(t, err)
	return task
}

func newSweepJob(repo *sweepRepo) *LifecycleSweepJob {
	job := NewLifecycleSweepJob(repo, nil, nil)
	job.clock = func() time.Time { return sweepNow }
	return job
}

func TestSweepRetiersAgedRecords(t *testing.T) {
	fresh := agedRecord(t, audit.ActionUserLogin, 5)
	cold := agedRecord(t, audit.ActionUserLogin, 200)
	repo := newSweepRepo(fresh, cold)

	require.NoError(t, newSweepJob(repo).Handle(context.Background(), sweepTask(t, LifecycleSweepPayload{})))

	assert.Equal(t, audit.TierHot, repo.records[fresh.ID].StorageTier)
	assert.Equal(t, audit.TierCold, repo.records[cold.ID].StorageTier)
	assert.Empty(t, repo.deleted)
}

func TestSweepCompressesArchiveTier(t *testing.T) {
	ancient := agedRecord(t, audit.ActionUserLogin, 800)
	repo := newSweepRepo(ancient)

	require.NoError(t, newSweepJob(repo).Handle(context.Background(), sweepTask(t, LifecycleSweepPayload{})))

	rec := repo.records[ancient.ID]
	assert.Equal(t, audit.TierArchive, rec.StorageTier)
	assert.True(t, rec.Compressed)
	assert.Empty(t, repo.deleted)
}

func TestSweepDeletesPastRetention(t *testing.T) {
	expired := agedRecord(t, audit.ActionUserUpdate, 400)
	kept := agedRecord(t, audit.ActionUserDelete, 400)
	repo := newSweepRepo(expired, kept)

	require.NoError(t, newSweepJob(repo).Handle(context.Background(), sweepTask(t, LifecycleSweepPayload{})))

	assert.NotContains(t, repo.records, expired.ID)
	assert.Contains(t, repo.records, kept.ID, "high risk records outlive the standard horizon")
}

func TestSweepPagesThroughBatches(t *testing.T) {
	var records []audit.Record
	for i := 0; i < 5; i++ {
		records = append(records, agedRecord(t, audit.ActionUserLogin, 40+i))
	}
	repo := newSweepRepo(records...)

	require.NoError(t, newSweepJob(repo).Handle(context.Background(), sweepTask(t, LifecycleSweepPayload{BatchSize: 2})))

	assert.GreaterOrEqual(t, repo.pagesSeen, 3)
	for _, rec := range repo.records {
		assert.Equal(t, audit.TierWarm, rec.StorageTier)
	}
}

func TestSweepCoversTimestampTiesAcrossPages(t *testing.T) {
	// Five records sharing one timestamp: a time-only cursor would skip
	// whatever is left of the tie once a page breaks inside it.
	var records []audit.Record
	for i := 0; i < 5; i++ {
		records = append(records, agedRecord(t, audit.ActionUserLogin, 40))
	}
	repo := newSweepRepo(records...)

	require.NoError(t, newSweepJob(repo).Handle(context.Background(), sweepTask(t, LifecycleSweepPayload{BatchSize: 2})))

	require.Len(t, repo.records, 5)
	for _, rec := range repo.records {
		assert.Equal(t, audit.TierWarm, rec.StorageTier)
	}
}

func TestSweepAbortsBatchOnTierError(t *testing.T) {
	cold := agedRecord(t, audit.ActionUserLogin, 200)
	repo := newSweepRepo(cold)
	repo.tierErr = assert.AnError

	err := newSweepJob(repo).Handle(context.Background(), sweepTask(t, LifecycleSweepPayload{}))
	assert.Error(t, err)
	assert.Empty(t, repo.deleted)
}

func TestSweepIsReentrant(t *testing.T) {
	cold := agedRecord(t, audit.ActionUserLogin, 200)
	repo := newSweepRepo(cold)
	job := newSweepJob(repo)

	require.NoError(t, job.Handle(context.Background(), sweepTask(t, LifecycleSweepPayload{})))
	first := repo.records[cold.ID].StorageTier

	require.NoError(t, job.Handle(context.Background(), sweepTask(t, LifecycleSweepPayload{})))
	assert.Equal(t, first, repo.records[cold.ID].StorageTier)
}

func TestCleanupJobEnforcesFloor(t *testing.T) {
	repo := newSweepRepo()
	job := NewCleanupJob(audit.NewService(repo, nil, nil), nil, nil)

	task, err := NewCleanupTask(CleanupPayload{RetentionDays: 5})
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}

func TestCleanupJobDeletes(t *testing.T) {
	// Ages are relative to the wall clock because the service owns its own
	// clock.
	old, err := audit.NewRecord(audit.ActionUserUpdate, nil, "system", audit.OutcomeSuccess, "", time.Now().AddDate(0, 0, -400))
	require.NoError(t, err)
	recent, err := audit.NewRecord(audit.ActionUserUpdate, nil, "system", audit.OutcomeSuccess, "", time.Now().AddDate(0, 0, -10))
	require.NoError(t, err)
	repo := newSweepRepo(old, recent)
	job := NewCleanupJob(audit.NewService(repo, nil, nil), nil, nil)

	task, taskErr := NewCleanupTask(CleanupPayload{RetentionDays: 90})
	require.NoError(t, taskErr)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.NotContains(t, repo.records, old.ID)
	assert.Contains(t, repo.records, recent.ID)
}
