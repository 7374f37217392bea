package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
)

var selectNodes = `SELECT n.* FROM nodes n`

// NodeInfoUpdate carries the display/hardware fields of a NODEINFO_APP
// packet together with the receive time that orders it.
type NodeInfoUpdate struct {
	ShortName *string
	LongName  *string
	MacAddr   *string
	HwModel   *string
	SwVersion *string
	Role      *string
	PublicKey *string
	RxTime    time.Time
}

// NodeStore provides database operations for observed mesh nodes.
type NodeStore interface {
	// Resolve returns the node for the given mesh ID, creating an
	// unclaimed record if none exists. Safe under concurrent first
	// sightings of the same sender: exactly one row results.
	Resolve(ctx context.Context, nodeID mesh.NodeID) (*models.Node, error)
	// GetByNodeID retrieves a node by mesh ID, or nil if unknown.
	GetByNodeID(ctx context.Context, nodeID mesh.NodeID) (*models.Node, error)
	// ApplyNodeInfo updates name/hardware metadata, last-write-wins by
	// packet receive time: an update older than what is already applied
	// is a no-op regardless of arrival order.
	ApplyNodeInfo(ctx context.Context, nodeID mesh.NodeID, upd NodeInfoUpdate) error
	// TouchLastHeard advances last_heard, never moving it backwards.
	TouchLastHeard(ctx context.Context, nodeID mesh.NodeID, at time.Time) error
	// SetLastPosition records the node's last-known position.
	SetLastPosition(ctx context.Context, nodeID mesh.NodeID, lat, lon, alt *float64) error
	// List retrieves all known nodes ordered by mesh ID.
	List(ctx context.Context) ([]*models.Node, error)
	// ListByOwner retrieves the nodes claimed by a user.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Node, error)
}

type postgresNodeStore struct {
	db *sqlx.DB
}

// NewNodeStore creates a new node store.
func NewNodeStore(dbconn *sqlx.DB) NodeStore {
	return &postgresNodeStore{db: dbconn}
}

func (s *postgresNodeStore) Resolve(ctx context.Context, nodeID mesh.NodeID) (*models.Node, error) {
	// The no-op DO UPDATE makes RETURNING yield the surviving row for
	// every concurrent caller; first writer wins the insert.
	stmt := `
	INSERT INTO nodes (internal_id, node_id, node_id_str, claim_status)
	VALUES (gen_random_uuid(), $1, $2, 'unclaimed')
	ON CONFLICT (node_id)
	DO UPDATE SET node_id = EXCLUDED.node_id
	RETURNING *;`

	var node models.Node
	err := s.db.GetContext(ctx, &node, stmt, nodeID, nodeID.String())
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *postgresNodeStore) GetByNodeID(ctx context.Context, nodeID mesh.NodeID) (*models.Node, error) {
	query := selectNodes + " WHERE n.node_id = $1;"
	var node models.Node
	err := s.db.GetContext(ctx, &node, query, nodeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *postgresNodeStore) ApplyNodeInfo(ctx context.Context, nodeID mesh.NodeID, upd NodeInfoUpdate) error {
	stmt := `
	UPDATE nodes
	SET short_name     = COALESCE($1, short_name),
	    long_name      = COALESCE($2, long_name),
	    mac_addr       = COALESCE($3, mac_addr),
	    hw_model       = COALESCE($4, hw_model),
	    sw_version     = COALESCE($5, sw_version),
	    role           = COALESCE($6, role),
	    public_key     = COALESCE($7, public_key),
	    node_info_time = $8
	WHERE node_id = $9
	  AND (node_info_time IS NULL OR node_info_time <= $8);`

	_, err := s.db.ExecContext(ctx, stmt,
		upd.ShortName, upd.LongName, upd.MacAddr, upd.HwModel,
		upd.SwVersion, upd.Role, upd.PublicKey, upd.RxTime, nodeID)
	return err
}

func (s *postgresNodeStore) TouchLastHeard(ctx context.Context, nodeID mesh.NodeID, at time.Time) error {
	stmt := `
	UPDATE nodes SET last_heard = $1
	WHERE node_id = $2 AND (last_heard IS NULL OR last_heard < $1);`
	_, err := s.db.ExecContext(ctx, stmt, at, nodeID)
	return err
}

func (s *postgresNodeStore) SetLastPosition(ctx context.Context, nodeID mesh.NodeID, lat, lon, alt *float64) error {
	stmt := `
	UPDATE nodes SET latitude = $1, longitude = $2, altitude = $3
	WHERE node_id = $4;`
	_, err := s.db.ExecContext(ctx, stmt, lat, lon, alt, nodeID)
	return err
}

func (s *postgresNodeStore) List(ctx context.Context) ([]*models.Node, error) {
	query := selectNodes + " ORDER BY n.node_id;"
	nodes := []*models.Node{}
	err := s.db.SelectContext(ctx, &nodes, query)
	if err == sql.ErrNoRows {
		return []*models.Node{}, nil
	}
	return nodes, err
}

func (s *postgresNodeStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Node, error) {
	query := selectNodes + " WHERE n.owner_id = $1 ORDER BY n.node_id;"
	nodes := []*models.Node{}
	err := s.db.SelectContext(ctx, &nodes, query, ownerID)
	if err == sql.ErrNoRows {
		return []*models.Node{}, nil
	}
	return nodes, err
}
