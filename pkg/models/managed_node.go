package models

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow-server/pkg/mesh"
)

// Constellation is a geographic grouping of managed nodes and the API keys
// that relay for them.
type Constellation struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Description *string   `db:"description"`
}

// ManagedNode is a claimed node configured to relay mesh traffic into the
// ingestion endpoint on behalf of the system.
type ManagedNode struct {
	InternalID      uuid.UUID   `db:"internal_id"`
	NodeID          mesh.NodeID `db:"node_id"`
	Name            string      `db:"name"`
	OwnerID         uuid.UUID   `db:"owner_id"`
	ConstellationID uuid.UUID   `db:"constellation_id"`
}

func (m *ManagedNode) String() string {
	return fmt.Sprintf("%s %s", m.NodeID, m.Name)
}
