package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/models"
)

// PositionStore persists position-report projections.
type PositionStore interface {
	Add(ctx context.Context, p *models.Position) error
	ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.Position, error)
}

type postgresPositionStore struct {
	db *sqlx.DB
}

// NewPositionStore creates a new position store.
func NewPositionStore(dbconn *sqlx.DB) PositionStore {
	return &postgresPositionStore{db: dbconn}
}

func (s *postgresPositionStore) Add(ctx context.Context, p *models.Position) error {
	stmt := `
	INSERT INTO positions (
		id, node_internal_id, logged_time, reported_time, latitude,
		longitude, altitude, heading, location_source, precision_bits,
		ground_speed, ground_track, sats_in_view, pdop
	) VALUES (
		:id, :node_internal_id, :logged_time, :reported_time, :latitude,
		:longitude, :altitude, :heading, :location_source, :precision_bits,
		:ground_speed, :ground_track, :sats_in_view, :pdop
	);`
	_, err := s.db.NamedExecContext(ctx, stmt, p)
	return err
}

func (s *postgresPositionStore) ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.Position, error) {
	query := `SELECT * FROM positions WHERE node_internal_id = $1 ORDER BY reported_time DESC LIMIT $2;`
	rows := []*models.Position{}
	err := s.db.SelectContext(ctx, &rows, query, nodeInternalID, limit)
	if err == sql.ErrNoRows {
		return []*models.Position{}, nil
	}
	return rows, err
}
