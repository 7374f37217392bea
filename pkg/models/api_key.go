package models

import (
	"time"

	"github.com/google/uuid"
)

// ApiKey authenticates a relay to the ingestion endpoint. The secret itself
// is never stored, only its hash. A key authorizes exactly the managed
// nodes it has been linked to.
type ApiKey struct {
	ID              uuid.UUID  `db:"id"`
	KeyHash         string     `db:"key_hash"`
	Name            string     `db:"name"`
	OwnerID         uuid.UUID  `db:"owner_id"`
	ConstellationID uuid.UUID  `db:"constellation_id"`
	IsActive        bool       `db:"is_active"`
	CreatedAt       time.Time  `db:"created_at"`
	LastUsed        *time.Time `db:"last_used"`
}
