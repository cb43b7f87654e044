package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"miniurl/internal/database"
	"miniurl/internal/models"
)

type linkRecord struct {
	ID          uuid.UUID     `db:"id"`
	OriginalURL string        `db:"original_url"`
	ShortCode   string        `db:"short_code"`
	Description string        `db:"description"`
	Status      string        `db:"status"`
	CreatorID   uuid.UUID     `db:"creator_id"`
	ApproverID  uuid.NullUUID `db:"approver_id"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
	ExpiresAt   time.Time     `db:"expires_at"`
}

func (r *linkRecord) ToLink() *models.Link {
	return &models.Link{
		ID:          r.ID,
		OriginalURL: r.OriginalURL,
		ShortCode:   r.ShortCode,
		Description: r.Description,
		Status:      models.LinkStatus(r.Status),
		CreatorID:   r.CreatorID,
		ApproverID:  r.ApproverID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

type LinkRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

func NewLinkRepository(db *sqlx.DB, lockTimeout time.Duration) *LinkRepository {
	return &LinkRepository{
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// Create inserts a new link row. A short code collision is reported as
// database.ErrShortCodeExists so the caller can retry with a fresh code.
func (r *LinkRepository) Create(ctx context.Context, link *models.Link) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.Create"

	rec := new(linkRecord)
	query := `INSERT INTO links(id, original_url, short_code, description, status, creator_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query,
		link.ID, link.OriginalURL, link.ShortCode, link.Description,
		string(link.Status), link.CreatorID, link.ExpiresAt)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrShortCodeExists)
		}

		return nil, fmt.Errorf("%s: failed to create link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

// UpdateStatus transitions a link to the given status inside a
// transaction. The row is read under an exclusive lock with a bounded
// wait, so concurrent transitions on the same id serialize: exactly one
// caller effects a given transition and latecomers see SameStatusError.
func (r *LinkRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.LinkStatus, approverID uuid.UUID) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.UpdateStatus"

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// SET doesn't take bind parameters; the value is a trusted duration
	lockQuery := fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, r.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, lockQuery); err != nil {
		return nil, fmt.Errorf("%s: failed to set lock timeout: %w", op, err)
	}

	rec := new(linkRecord)
	selectQuery := `SELECT * FROM links WHERE id = $1 FOR UPDATE`

	if err := tx.GetContext(ctx, rec, selectQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}
		if isLockTimeoutError(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLockTimeout)
		}

		return nil, fmt.Errorf("%s: failed to lock link record: %w", op, err)
	}

	if models.LinkStatus(rec.Status) == status {
		return nil, fmt.Errorf("%s: %w", op, &database.SameStatusError{Status: status})
	}

	updateQuery := `UPDATE links
		SET status = $1, approver_id = $2, updated_at = now()
		WHERE id = $3
		RETURNING *`

	if err := tx.GetContext(ctx, rec, updateQuery, string(status), approverID, id); err != nil {
		return nil, fmt.Errorf("%s: failed to update link record: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	return rec.ToLink(), nil
}

func (r *LinkRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.GetByID"

	rec := new(linkRecord)
	query := `SELECT * FROM links WHERE id = $1`

	if err := r.db.GetContext(ctx, rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

// GetApprovedByShortCode resolves a short code for redirecting. Only
// approved links redirect.
func (r *LinkRepository) GetApprovedByShortCode(ctx context.Context, shortCode string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.GetApprovedByShortCode"

	rec := new(linkRecord)
	query := `SELECT * FROM links WHERE short_code = $1 AND status = $2`

	if err := r.db.GetContext(ctx, rec, query, shortCode, string(models.StatusApproved)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

// List returns one page of links, most recently updated first, along
// with the total row count for the same filters. A nil status or
// creatorID leaves the corresponding filter off; both queries share the
// filters so page contents and total stay consistent.
func (r *LinkRepository) List(ctx context.Context, limit, offset int, status *models.LinkStatus, creatorID *uuid.UUID) ([]*models.Link, int64, error) {
	const op = "database.postgres.LinkRepository.List"

	var (
		conds []string
		args  []any
	)
	if status != nil {
		args = append(args, string(*status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if creatorID != nil {
		args = append(args, *creatorID)
		conds = append(conds, fmt.Sprintf("creator_id = $%d", len(args)))
	}

	var where string
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countQuery := `SELECT count(*) FROM links` + where
	countArgs := append([]any(nil), args...)

	query := fmt.Sprintf(`SELECT * FROM links%s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var recs []linkRecord
	if err := r.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("%s: failed to list link records: %w", op, err)
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("%s: failed to count link records: %w", op, err)
	}

	links := make([]*models.Link, 0, len(recs))
	for i := range recs {
		links = append(links, recs[i].ToLink())
	}

	return links, total, nil
}
