package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Filter narrows audit record queries. Zero fields are ignored.
type Filter struct {
	ActorID      *int64
	Action       string
	ResourceType string
	Outcome      string
	From         time.Time
	To           time.Time
}

// Stats aggregates record counts for administrative review.
type Stats struct {
	Total     int64
	ByOutcome map[string]int64
	ByLevel   map[string]int64
	ByAction  map[string]int64
}

// Repository defines persistence operations for audit records.
type Repository interface {
	Save(ctx context.Context, rec Record) error
	FindWithCount(ctx context.Context, f Filter, limit, offset int) ([]Record, int, error)
	Stats(ctx context.Context, since time.Time) (Stats, error)
	// DeleteBefore removes at most batchSize records created before cutoff
	// and returns the number removed. Callers loop in bounded batches.
	DeleteBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	// ListForSweep pages records oldest-first for lifecycle re-evaluation,
	// resuming strictly after the (createdAfter, afterID) keyset position.
	ListForSweep(ctx context.Context, createdAfter time.Time, afterID uuid.UUID, limit int) ([]Record, error)
	UpdateTier(ctx context.Context, ids []uuid.UUID, tier Tier) error
	MarkCompressed(ctx context.Context, ids []uuid.UUID) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const recordColumns = `id, actor_id, actor_name, action, resource_type, resource_id, description,
	outcome, error_message, ip, user_agent, request_id, metadata, storage_tier, compressed, created_at`

// Save appends a record. Records are immutable: there is no update path for
// evidentiary fields.
func (r *PGRepository) Save(ctx context.Context, rec Record) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO audit_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.ActorID, rec.ActorName, string(rec.Action), rec.ResourceType, rec.ResourceID,
		rec.Description, string(rec.Outcome), rec.ErrorMessage, rec.IP, rec.UserAgent,
		rec.RequestID, metaJSON, string(rec.StorageTier), rec.Compressed, rec.CreatedAt)
	return err
}

// FindWithCount returns a filtered page ordered by created_at descending,
// together with the total match count.
func (r *PGRepository) FindWithCount(ctx context.Context, f Filter, limit, offset int) ([]Record, int, error) {
	where, args := buildFilter(f)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + recordColumns + ` FROM audit_records` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Stats aggregates counts for records created at or after since.
func (r *PGRepository) Stats(ctx context.Context, since time.Time) (Stats, error) {
	stats := Stats{
		ByOutcome: make(map[string]int64),
		ByLevel:   make(map[string]int64),
		ByAction:  make(map[string]int64),
	}
	rows, err := r.pool.Query(ctx,
		`SELECT action, outcome, COUNT(*) FROM audit_records WHERE created_at >= $1 GROUP BY action, outcome`,
		since)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var action, outcome string
		var count int64
		if err := rows.Scan(&action, &outcome, &count); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		stats.ByOutcome[outcome] += count
		stats.ByAction[action] += count
		stats.ByLevel[string(Classify(Action(action)))] += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// DeleteBefore removes one bounded batch of records older than cutoff. The
// inner select keeps the statement bounded so a sweep never holds a long
// table lock.
func (r *PGRepository) DeleteBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_records WHERE id IN (
		SELECT id FROM audit_records WHERE created_at < $1 ORDER BY created_at LIMIT $2)`,
		cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteByIDs removes the given records.
func (r *PGRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_records WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListForSweep pages records oldest-first, resuming after the
// (createdAfter, afterID) keyset. Paging on the composite key rather than
// the timestamp alone keeps records sharing a boundary timestamp from being
// skipped when a page breaks mid-tie; re-querying by keyset rather than
// offset also lets an interrupted pass restart cleanly.
func (r *PGRepository) ListForSweep(ctx context.Context, createdAfter time.Time, afterID uuid.UUID, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM audit_records
		WHERE (created_at, id) > ($1, $2) ORDER BY created_at ASC, id ASC LIMIT $3`,
		createdAfter, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// UpdateTier advances the stored tier for the given records.
func (r *PGRepository) UpdateTier(ctx context.Context, ids []uuid.UUID, tier Tier) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE audit_records SET storage_tier = $1 WHERE id = ANY($2)`,
		string(tier), ids)
	return err
}

// MarkCompressed flags the given records as compressed.
func (r *PGRepository) MarkCompressed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE audit_records SET compressed = TRUE WHERE id = ANY($1)`, ids)
	return err
}

func buildFilter(f Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.Outcome != "" {
		add("outcome = $%d", f.Outcome)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var actorID pgtype.Int8
		var action, outcome, tier string
		var metaJSON []byte
		if err := rows.Scan(&rec.ID, &actorID, &rec.ActorName, &action, &rec.ResourceType,
			&rec.ResourceID, &rec.Description, &outcome, &rec.ErrorMessage, &rec.IP,
			&rec.UserAgent, &rec.RequestID, &metaJSON, &tier, &rec.Compressed, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id := actorID.Int64
			rec.ActorID = &id
		}
		rec.Action = Action(action)
		rec.Outcome = Outcome(outcome)
		rec.StorageTier = Tier(tier)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("audit: unmarshal metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
