package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow-server/pkg/mesh"
)

// ClaimStatus tracks a node's ownership lifecycle. Transitions are owned
// exclusively by the claim manager; ingestion only ever creates nodes as
// StatusUnclaimed.
type ClaimStatus string

const (
	StatusUnclaimed    ClaimStatus = "unclaimed"
	StatusPendingClaim ClaimStatus = "pending_claim"
	StatusClaimed      ClaimStatus = "claimed"
)

// Node is a mesh node observed on the network. Created automatically the
// first time a packet from its node ID is ingested; never hard-deleted.
type Node struct {
	InternalID   uuid.UUID   `db:"internal_id"`
	NodeID       mesh.NodeID `db:"node_id"`
	NodeIDStr    string      `db:"node_id_str"`
	ShortName    *string     `db:"short_name"`
	LongName     *string     `db:"long_name"`
	MacAddr      *string     `db:"mac_addr"`
	HwModel      *string     `db:"hw_model"`
	SwVersion    *string     `db:"sw_version"`
	Role         *string     `db:"role"`
	PublicKey    *string     `db:"public_key"`
	ClaimStatus  ClaimStatus `db:"claim_status"`
	OwnerID      *uuid.UUID  `db:"owner_id"`
	LastHeard    *time.Time  `db:"last_heard"`
	NodeInfoTime *time.Time  `db:"node_info_time"`
	Latitude     *float64    `db:"latitude"`
	Longitude    *float64    `db:"longitude"`
	Altitude     *float64    `db:"altitude"`
}

// HasLocation returns true if the node has a last-known position.
func (n *Node) HasLocation() bool {
	return n.Latitude != nil && n.Longitude != nil
}

// DisplayName returns the long name with the hex ID as a fallback.
func (n *Node) DisplayName() string {
	if n.LongName != nil && *n.LongName != "" {
		return *n.LongName
	}
	return n.NodeIDStr
}
