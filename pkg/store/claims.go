package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/apperr"
	"github.com/meshflow/meshflow-server/pkg/models"
)

var selectClaims = `SELECT c.* FROM claim_requests c`

const pgUniqueViolation = "23505"

// ClaimStore owns the ClaimRequest lifecycle and the node ownership
// transitions tied to it. No other store mutates claim_status.
type ClaimStore interface {
	// GetPendingByNode returns the node's pending claim, or nil.
	GetPendingByNode(ctx context.Context, nodeInternalID uuid.UUID) (*models.ClaimRequest, error)
	// Issue stores a pending claim and moves the node to pending_claim in
	// one transaction. A concurrent pending claim for the same node makes
	// it fail with apperr.ErrClaimInProgress (partial unique index).
	Issue(ctx context.Context, claim *models.ClaimRequest) error
	// Fulfill flips the claim pending->fulfilled and the node to claimed
	// with the claim's user as owner, atomically. Returns false when the
	// claim was no longer pending (a concurrent evaluation won).
	Fulfill(ctx context.Context, claim *models.ClaimRequest, at time.Time) (bool, error)
	// Expire flips the claim pending->expired and reverts the node to
	// unclaimed. Returns false when the claim was no longer pending.
	Expire(ctx context.Context, claim *models.ClaimRequest) (bool, error)
	// ListPendingExpiredBefore returns pending claims whose horizon has
	// passed, for the optional hygiene sweep.
	ListPendingExpiredBefore(ctx context.Context, cutoff time.Time) ([]*models.ClaimRequest, error)
	// ListByUser returns a user's claims, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ClaimRequest, error)
}

type postgresClaimStore struct {
	db *sqlx.DB
}

// NewClaimStore creates a new claim store.
func NewClaimStore(dbconn *sqlx.DB) ClaimStore {
	return &postgresClaimStore{db: dbconn}
}

func (s *postgresClaimStore) GetPendingByNode(ctx context.Context, nodeInternalID uuid.UUID) (*models.ClaimRequest, error) {
	query := selectClaims + " WHERE c.node_internal_id = $1 AND c.status = 'pending';"
	var claim models.ClaimRequest
	err := s.db.GetContext(ctx, &claim, query, nodeInternalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (s *postgresClaimStore) Issue(ctx context.Context, claim *models.ClaimRequest) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt := `
	INSERT INTO claim_requests (id, node_internal_id, user_id, claim_key, status, created_at, expires_at)
	VALUES (:id, :node_internal_id, :user_id, :claim_key, :status, :created_at, :expires_at);`
	if _, err := tx.NamedExecContext(ctx, stmt, claim); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperr.ErrClaimInProgress
		}
		return err
	}

	nodeStmt := `
	UPDATE nodes SET claim_status = 'pending_claim'
	WHERE internal_id = $1 AND claim_status = 'unclaimed';`
	res, err := tx.ExecContext(ctx, nodeStmt, claim.NodeInternalID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return apperr.ErrAlreadyClaimed
	}

	return tx.Commit()
}

func (s *postgresClaimStore) Fulfill(ctx context.Context, claim *models.ClaimRequest, at time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// Compare-and-swap on status guarantees a single winner among
	// concurrent deliveries of the matching key.
	cas := `
	UPDATE claim_requests SET status = 'fulfilled', fulfilled_at = $1
	WHERE id = $2 AND status = 'pending';`
	res, err := tx.ExecContext(ctx, cas, at, claim.ID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}

	nodeStmt := `
	UPDATE nodes SET claim_status = 'claimed', owner_id = $1
	WHERE internal_id = $2;`
	if _, err := tx.ExecContext(ctx, nodeStmt, claim.UserID, claim.NodeInternalID); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (s *postgresClaimStore) Expire(ctx context.Context, claim *models.ClaimRequest) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	cas := `
	UPDATE claim_requests SET status = 'expired'
	WHERE id = $1 AND status = 'pending';`
	res, err := tx.ExecContext(ctx, cas, claim.ID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}

	nodeStmt := `
	UPDATE nodes SET claim_status = 'unclaimed'
	WHERE internal_id = $1 AND claim_status = 'pending_claim';`
	if _, err := tx.ExecContext(ctx, nodeStmt, claim.NodeInternalID); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (s *postgresClaimStore) ListPendingExpiredBefore(ctx context.Context, cutoff time.Time) ([]*models.ClaimRequest, error) {
	query := selectClaims + " WHERE c.status = 'pending' AND c.expires_at < $1;"
	claims := []*models.ClaimRequest{}
	err := s.db.SelectContext(ctx, &claims, query, cutoff)
	if err == sql.ErrNoRows {
		return []*models.ClaimRequest{}, nil
	}
	return claims, err
}

func (s *postgresClaimStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ClaimRequest, error) {
	query := selectClaims + " WHERE c.user_id = $1 ORDER BY c.created_at DESC;"
	claims := []*models.ClaimRequest{}
	err := s.db.SelectContext(ctx, &claims, query, userID)
	if err == sql.ErrNoRows {
		return []*models.ClaimRequest{}, nil
	}
	return claims, err
}
