package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/models"
)

// DeviceMetricsStore persists device-telemetry projections.
type DeviceMetricsStore interface {
	Add(ctx context.Context, m *models.DeviceMetrics) error
	ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.DeviceMetrics, error)
}

type postgresDeviceMetricsStore struct {
	db *sqlx.DB
}

// NewDeviceMetricsStore creates a new device metrics store.
func NewDeviceMetricsStore(dbconn *sqlx.DB) DeviceMetricsStore {
	return &postgresDeviceMetricsStore{db: dbconn}
}

func (s *postgresDeviceMetricsStore) Add(ctx context.Context, m *models.DeviceMetrics) error {
	stmt := `
	INSERT INTO device_metrics (
		id, node_internal_id, logged_time, reported_time, battery_level,
		voltage, channel_utilization, air_util_tx, uptime_seconds
	) VALUES (
		:id, :node_internal_id, :logged_time, :reported_time, :battery_level,
		:voltage, :channel_utilization, :air_util_tx, :uptime_seconds
	);`
	_, err := s.db.NamedExecContext(ctx, stmt, m)
	return err
}

func (s *postgresDeviceMetricsStore) ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.DeviceMetrics, error) {
	query := `SELECT * FROM device_metrics WHERE node_internal_id = $1 ORDER BY reported_time DESC LIMIT $2;`
	rows := []*models.DeviceMetrics{}
	err := s.db.SelectContext(ctx, &rows, query, nodeInternalID, limit)
	if err == sql.ErrNoRows {
		return []*models.DeviceMetrics{}, nil
	}
	return rows, err
}

// EnvironmentMetricsStore persists environmental-sensor projections.
type EnvironmentMetricsStore interface {
	Add(ctx context.Context, m *models.EnvironmentMetrics) error
	ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.EnvironmentMetrics, error)
}

type postgresEnvironmentMetricsStore struct {
	db *sqlx.DB
}

// NewEnvironmentMetricsStore creates a new environment metrics store.
func NewEnvironmentMetricsStore(dbconn *sqlx.DB) EnvironmentMetricsStore {
	return &postgresEnvironmentMetricsStore{db: dbconn}
}

func (s *postgresEnvironmentMetricsStore) Add(ctx context.Context, m *models.EnvironmentMetrics) error {
	stmt := `
	INSERT INTO environment_metrics (
		id, node_internal_id, logged_time, reported_time, temperature,
		relative_humidity, barometric_pressure, gas_resistance, iaq
	) VALUES (
		:id, :node_internal_id, :logged_time, :reported_time, :temperature,
		:relative_humidity, :barometric_pressure, :gas_resistance, :iaq
	);`
	_, err := s.db.NamedExecContext(ctx, stmt, m)
	return err
}

func (s *postgresEnvironmentMetricsStore) ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.EnvironmentMetrics, error) {
	query := `SELECT * FROM environment_metrics WHERE node_internal_id = $1 ORDER BY reported_time DESC LIMIT $2;`
	rows := []*models.EnvironmentMetrics{}
	err := s.db.SelectContext(ctx, &rows, query, nodeInternalID, limit)
	if err == sql.ErrNoRows {
		return []*models.EnvironmentMetrics{}, nil
	}
	return rows, err
}
