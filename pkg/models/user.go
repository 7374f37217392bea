package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal identity record the engine needs. Account management
// and social login live in the surrounding product, not here.
type User struct {
	ID          uuid.UUID `db:"id"`
	UserName    string    `db:"username"`
	DisplayName *string   `db:"display_name"`
	TokenHash   string    `db:"token_hash"`
	IsSuperuser bool      `db:"is_superuser"`
	Created     time.Time `db:"created"`
}
