package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/auth"
	"github.com/meshflow/meshflow-server/pkg/models"
)

var selectUsers = `SELECT u.* FROM users u`

// UserStore resolves user identities. Account management proper lives in
// the surrounding product; the engine only reads.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUserName(ctx context.Context, username string) (*models.User, error)
	// GetByToken resolves a presented bearer token, or nil.
	GetByToken(ctx context.Context, token string) (*models.User, error)
	Add(ctx context.Context, user *models.User) error
}

type postgresUserStore struct {
	db *sqlx.DB
}

// NewUserStore creates a new user store.
func NewUserStore(dbconn *sqlx.DB) UserStore {
	return &postgresUserStore{db: dbconn}
}

func (s *postgresUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := selectUsers + " WHERE u.id = $1;"
	var user models.User
	err := s.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *postgresUserStore) GetByUserName(ctx context.Context, username string) (*models.User, error) {
	query := selectUsers + " WHERE u.username = $1;"
	var user models.User
	err := s.db.GetContext(ctx, &user, query, username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *postgresUserStore) GetByToken(ctx context.Context, token string) (*models.User, error) {
	query := selectUsers + " WHERE u.token_hash = $1;"
	var user models.User
	err := s.db.GetContext(ctx, &user, query, auth.HashSecret(token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *postgresUserStore) Add(ctx context.Context, user *models.User) error {
	stmt := `
	INSERT INTO users (id, username, display_name, token_hash, is_superuser, created)
	VALUES (:id, :username, :display_name, :token_hash, :is_superuser, :created);`
	_, err := s.db.NamedExecContext(ctx, stmt, user)
	return err
}
