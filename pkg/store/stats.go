package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// StatsSummary holds the row counts behind the stats endpoint.
type StatsSummary struct {
	Nodes        int64 `db:"nodes" json:"nodes"`
	ClaimedNodes int64 `db:"claimed_nodes" json:"claimed_nodes"`
	RawPackets   int64 `db:"raw_packets" json:"raw_packets"`
	TextMessages int64 `db:"text_messages" json:"text_messages"`
	Positions    int64 `db:"positions" json:"positions"`
}

// StatsStore computes aggregate counts for dashboards.
type StatsStore interface {
	Summary(ctx context.Context) (*StatsSummary, error)
}

type postgresStatsStore struct {
	db *sqlx.DB
}

// NewStatsStore creates a new stats store.
func NewStatsStore(dbconn *sqlx.DB) StatsStore {
	return &postgresStatsStore{db: dbconn}
}

func (s *postgresStatsStore) Summary(ctx context.Context) (*StatsSummary, error) {
	query := `
	SELECT
		(SELECT COUNT(*) FROM nodes)                                   AS nodes,
		(SELECT COUNT(*) FROM nodes WHERE claim_status = 'claimed')    AS claimed_nodes,
		(SELECT COUNT(*) FROM raw_packets)                             AS raw_packets,
		(SELECT COUNT(*) FROM text_messages)                           AS text_messages,
		(SELECT COUNT(*) FROM positions)                               AS positions;`
	var sum StatsSummary
	if err := s.db.GetContext(ctx, &sum, query); err != nil {
		return nil, err
	}
	return &sum, nil
}
