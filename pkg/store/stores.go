package store

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/config"
)

// Stores bundles every repository the engine and routes need. Components
// depend on the interfaces, never on the Postgres implementations, so tests
// can substitute in-memory fakes.
type Stores struct {
	Nodes              NodeStore
	ManagedNodes       ManagedNodeStore
	Constellations     ConstellationStore
	ApiKeys            ApiKeyStore
	RawPackets         RawPacketStore
	DeviceMetrics      DeviceMetricsStore
	EnvironmentMetrics EnvironmentMetricsStore
	Positions          PositionStore
	TextMessages       TextMessageStore
	Claims             ClaimStore
	Users              UserStore
	Stats              StatsStore
}

// Open connects to Postgres and builds the full store set.
func Open(cfg *config.Configuration) (*sqlx.DB, Stores, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN())
	if err != nil {
		return nil, Stores{}, fmt.Errorf("connecting to database: %w", err)
	}
	return db, NewStores(db), nil
}

// NewStores wires the Postgres implementations over an existing connection.
func NewStores(db *sqlx.DB) Stores {
	return Stores{
		Nodes:              NewNodeStore(db),
		ManagedNodes:       NewManagedNodeStore(db),
		Constellations:     NewConstellationStore(db),
		ApiKeys:            NewApiKeyStore(db),
		RawPackets:         NewRawPacketStore(db),
		DeviceMetrics:      NewDeviceMetricsStore(db),
		EnvironmentMetrics: NewEnvironmentMetricsStore(db),
		Positions:          NewPositionStore(db),
		TextMessages:       NewTextMessageStore(db),
		Claims:             NewClaimStore(db),
		Users:              NewUserStore(db),
		Stats:              NewStatsStore(db),
	}
}
