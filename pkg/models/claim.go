package models

import (
	"time"

	"github.com/google/uuid"
)

// ClaimState is the lifecycle of one ownership challenge.
type ClaimState string

const (
	ClaimPending   ClaimState = "pending"
	ClaimFulfilled ClaimState = "fulfilled"
	ClaimExpired   ClaimState = "expired"
)

// ClaimRequest is one outstanding challenge: the user proves ownership of
// the node by transmitting ClaimKey from the node itself. At most one
// pending request exists per node, enforced by a partial unique index.
type ClaimRequest struct {
	ID             uuid.UUID  `db:"id"`
	NodeInternalID uuid.UUID  `db:"node_internal_id"`
	UserID         uuid.UUID  `db:"user_id"`
	ClaimKey       string     `db:"claim_key"`
	Status         ClaimState `db:"status"`
	CreatedAt      time.Time  `db:"created_at"`
	ExpiresAt      time.Time  `db:"expires_at"`
	FulfilledAt    *time.Time `db:"fulfilled_at"`
}

// ExpiredBy reports whether the request's expiry horizon has passed.
func (c *ClaimRequest) ExpiredBy(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
