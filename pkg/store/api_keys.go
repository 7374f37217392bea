package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/auth"
	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
)

var selectApiKeys = `SELECT k.* FROM api_keys k`

// ApiKeyStore provides database operations for relay credentials.
//
// Authenticate is deliberately uncached: revoking a key must invalidate
// in-flight and future ingestion immediately.
type ApiKeyStore interface {
	// Authenticate resolves a presented secret to an active key, or nil.
	Authenticate(ctx context.Context, secret string) (*models.ApiKey, error)
	// LinkedManagedNode returns the managed node the key is authorized to
	// relay for, or nil when the key has no link to that node.
	LinkedManagedNode(ctx context.Context, keyID uuid.UUID, nodeID mesh.NodeID) (*models.ManagedNode, error)
	// TouchLastUsed records a successful use of the key.
	TouchLastUsed(ctx context.Context, keyID uuid.UUID, at time.Time) error
	Add(ctx context.Context, key *models.ApiKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ApiKey, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.ApiKey, error)
	// Revoke deactivates a key. The key row survives for audit.
	Revoke(ctx context.Context, id uuid.UUID) error
	// LinkNode authorizes the key for a managed node.
	LinkNode(ctx context.Context, keyID, managedNodeID uuid.UUID) error
	UnlinkNode(ctx context.Context, keyID, managedNodeID uuid.UUID) error
}

type postgresApiKeyStore struct {
	db *sqlx.DB
}

// NewApiKeyStore creates a new API key store.
func NewApiKeyStore(dbconn *sqlx.DB) ApiKeyStore {
	return &postgresApiKeyStore{db: dbconn}
}

func (s *postgresApiKeyStore) Authenticate(ctx context.Context, secret string) (*models.ApiKey, error) {
	query := selectApiKeys + " WHERE k.key_hash = $1 AND k.is_active;"
	var key models.ApiKey
	err := s.db.GetContext(ctx, &key, query, auth.HashSecret(secret))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *postgresApiKeyStore) LinkedManagedNode(ctx context.Context, keyID uuid.UUID, nodeID mesh.NodeID) (*models.ManagedNode, error) {
	query := `
	SELECT m.* FROM managed_nodes m
	JOIN api_key_nodes l ON l.managed_node_id = m.internal_id
	WHERE l.api_key_id = $1 AND m.node_id = $2;`
	var node models.ManagedNode
	err := s.db.GetContext(ctx, &node, query, keyID, nodeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *postgresApiKeyStore) TouchLastUsed(ctx context.Context, keyID uuid.UUID, at time.Time) error {
	stmt := `UPDATE api_keys SET last_used = $1 WHERE id = $2;`
	_, err := s.db.ExecContext(ctx, stmt, at, keyID)
	return err
}

func (s *postgresApiKeyStore) Add(ctx context.Context, key *models.ApiKey) error {
	stmt := `
	INSERT INTO api_keys (id, key_hash, name, owner_id, constellation_id, is_active, created_at)
	VALUES (:id, :key_hash, :name, :owner_id, :constellation_id, :is_active, :created_at);`
	_, err := s.db.NamedExecContext(ctx, stmt, key)
	return err
}

func (s *postgresApiKeyStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ApiKey, error) {
	query := selectApiKeys + " WHERE k.id = $1;"
	var key models.ApiKey
	err := s.db.GetContext(ctx, &key, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *postgresApiKeyStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.ApiKey, error) {
	query := selectApiKeys + " WHERE k.owner_id = $1 ORDER BY k.created_at;"
	keys := []*models.ApiKey{}
	err := s.db.SelectContext(ctx, &keys, query, ownerID)
	if err == sql.ErrNoRows {
		return []*models.ApiKey{}, nil
	}
	return keys, err
}

func (s *postgresApiKeyStore) Revoke(ctx context.Context, id uuid.UUID) error {
	stmt := `UPDATE api_keys SET is_active = FALSE WHERE id = $1;`
	_, err := s.db.ExecContext(ctx, stmt, id)
	return err
}

func (s *postgresApiKeyStore) LinkNode(ctx context.Context, keyID, managedNodeID uuid.UUID) error {
	stmt := `
	INSERT INTO api_key_nodes (api_key_id, managed_node_id)
	VALUES ($1, $2)
	ON CONFLICT DO NOTHING;`
	_, err := s.db.ExecContext(ctx, stmt, keyID, managedNodeID)
	return err
}

func (s *postgresApiKeyStore) UnlinkNode(ctx context.Context, keyID, managedNodeID uuid.UUID) error {
	stmt := `DELETE FROM api_key_nodes WHERE api_key_id = $1 AND managed_node_id = $2;`
	_, err := s.db.ExecContext(ctx, stmt, keyID, managedNodeID)
	return err
}
