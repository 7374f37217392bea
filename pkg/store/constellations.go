package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/models"
)

// ConstellationStore provides database operations for geographic groupings.
type ConstellationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Constellation, error)
	Add(ctx context.Context, c *models.Constellation) error
	List(ctx context.Context) ([]*models.Constellation, error)
}

type postgresConstellationStore struct {
	db *sqlx.DB
}

// NewConstellationStore creates a new constellation store.
func NewConstellationStore(dbconn *sqlx.DB) ConstellationStore {
	return &postgresConstellationStore{db: dbconn}
}

func (s *postgresConstellationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Constellation, error) {
	query := `SELECT * FROM constellations WHERE id = $1;`
	var c models.Constellation
	err := s.db.GetContext(ctx, &c, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *postgresConstellationStore) Add(ctx context.Context, c *models.Constellation) error {
	stmt := `INSERT INTO constellations (id, name, description) VALUES (:id, :name, :description);`
	_, err := s.db.NamedExecContext(ctx, stmt, c)
	return err
}

func (s *postgresConstellationStore) List(ctx context.Context) ([]*models.Constellation, error) {
	query := `SELECT * FROM constellations ORDER BY name;`
	cs := []*models.Constellation{}
	err := s.db.SelectContext(ctx, &cs, query)
	if err == sql.ErrNoRows {
		return []*models.Constellation{}, nil
	}
	return cs, err
}
