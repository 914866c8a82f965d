package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelgate/modelgate/internal/shared"
)

// Repository defines persistence operations for user accounts.
type Repository interface {
	VersionStore

	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]User, int, error)
	Create(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, user *User) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	Delete(ctx context.Context, id int64) error
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

const userColumns = `id, email, name, password_hash, is_active, is_super_admin, key_version, created_at, updated_at`

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// List returns a page of users ordered by id, plus the total count.
func (r *PGRepository) List(ctx context.Context, limit, offset int) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if err := scanUser(rows.Scan, &u); err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Create inserts a new user with key_version starting at 1.
func (r *PGRepository) Create(ctx context.Context, user *User) (*User, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, is_active, is_super_admin, key_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6) RETURNING id, key_version, created_at, updated_at`,
		user.Email, user.Name, user.PasswordHash, user.IsActive, user.IsSuperAdmin, now,
	).Scan(&user.ID, &user.KeyVersion, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return user, nil
}

// Update saves mutable profile fields.
func (r *PGRepository) Update(ctx context.Context, user *User) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET email = $2, name = $3, updated_at = NOW() WHERE id = $1`,
		user.ID, user.Email, user.Name)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetActive flips the account's active flag.
func (r *PGRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetPasswordHash replaces the stored credential hash.
func (r *PGRepository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes the account.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// IncrementKeyVersion advances the revocation counter in a single
// read-modify-write. Concurrent increments both advance; the only property
// consumers rely on is that the result is strictly greater than any version
// embedded in a previously issued token.
func (r *PGRepository) IncrementKeyVersion(ctx context.Context, userID int64) (int64, error) {
	var version int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET key_version = key_version + 1, updated_at = NOW() WHERE id = $1 RETURNING key_version`,
		userID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return version, nil
}

// KeyVersion reads the current revocation counter.
func (r *PGRepository) KeyVersion(ctx context.Context, userID int64) (int64, error) {
	var version int64
	err := r.pool.QueryRow(ctx, `SELECT key_version FROM users WHERE id = $1`, userID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return version, nil
}

func (r *PGRepository) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := scanUser(r.pool.QueryRow(ctx, query, arg).Scan, &u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanUser(scan func(...any) error, u *User) error {
	return scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.IsSuperAdmin,
		&u.KeyVersion, &u.CreatedAt, &u.UpdatedAt)
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}
