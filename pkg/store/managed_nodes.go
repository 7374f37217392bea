package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
)

var selectManagedNodes = `SELECT m.* FROM managed_nodes m`

// ManagedNodeStore provides database operations for relay nodes.
type ManagedNodeStore interface {
	GetByNodeID(ctx context.Context, nodeID mesh.NodeID) (*models.ManagedNode, error)
	GetByInternalID(ctx context.Context, id uuid.UUID) (*models.ManagedNode, error)
	// Add registers a claimed node as a managed relay. Fails at the
	// database for nodes that were never claimed (FK on nodes).
	Add(ctx context.Context, node *models.ManagedNode) error
	ListByConstellation(ctx context.Context, constellationID uuid.UUID) ([]*models.ManagedNode, error)
}

type postgresManagedNodeStore struct {
	db *sqlx.DB
}

// NewManagedNodeStore creates a new managed node store.
func NewManagedNodeStore(dbconn *sqlx.DB) ManagedNodeStore {
	return &postgresManagedNodeStore{db: dbconn}
}

func (s *postgresManagedNodeStore) GetByNodeID(ctx context.Context, nodeID mesh.NodeID) (*models.ManagedNode, error) {
	query := selectManagedNodes + " WHERE m.node_id = $1;"
	var node models.ManagedNode
	err := s.db.GetContext(ctx, &node, query, nodeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *postgresManagedNodeStore) GetByInternalID(ctx context.Context, id uuid.UUID) (*models.ManagedNode, error) {
	query := selectManagedNodes + " WHERE m.internal_id = $1;"
	var node models.ManagedNode
	err := s.db.GetContext(ctx, &node, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *postgresManagedNodeStore) Add(ctx context.Context, node *models.ManagedNode) error {
	stmt := `
	INSERT INTO managed_nodes (internal_id, node_id, name, owner_id, constellation_id)
	VALUES (:internal_id, :node_id, :name, :owner_id, :constellation_id);`
	_, err := s.db.NamedExecContext(ctx, stmt, node)
	return err
}

func (s *postgresManagedNodeStore) ListByConstellation(ctx context.Context, constellationID uuid.UUID) ([]*models.ManagedNode, error) {
	query := selectManagedNodes + " WHERE m.constellation_id = $1 ORDER BY m.name;"
	nodes := []*models.ManagedNode{}
	err := s.db.SelectContext(ctx, &nodes, query, constellationID)
	if err == sql.ErrNoRows {
		return []*models.ManagedNode{}, nil
	}
	return nodes, err
}
