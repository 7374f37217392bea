package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/models"
)

// RawPacketStore is the append-only log of every accepted packet.
type RawPacketStore interface {
	// AppendIfNew persists the packet unless its dedup key has been seen.
	// Returns false for a duplicate; callers must then skip every
	// downstream effect to keep at-most-once semantics for retransmits.
	AppendIfNew(ctx context.Context, pkt *models.RawPacket) (stored bool, err error)
	// ListBySender retrieves recent packets from a node, newest first.
	ListBySender(ctx context.Context, fromInt int64, limit int) ([]*models.RawPacket, error)
}

type postgresRawPacketStore struct {
	db *sqlx.DB
	// recent short-circuits the insert for keys seen moments ago, which
	// is the common case when several relays hear the same transmission.
	// The unique index remains the source of truth.
	recent *ttlcache.Cache[models.DedupKey, struct{}]
}

// NewRawPacketStore creates a new raw packet store.
func NewRawPacketStore(dbconn *sqlx.DB) RawPacketStore {
	cache := ttlcache.New[models.DedupKey, struct{}](
		ttlcache.WithTTL[models.DedupKey, struct{}](10 * time.Minute),
	)
	go cache.Start()
	return &postgresRawPacketStore{db: dbconn, recent: cache}
}

func (s *postgresRawPacketStore) AppendIfNew(ctx context.Context, pkt *models.RawPacket) (bool, error) {
	key := pkt.DedupKey()
	if s.recent.Get(key, ttlcache.WithDisableTouchOnHit[models.DedupKey, struct{}]()) != nil {
		return false, nil
	}

	stmt := `
	INSERT INTO raw_packets (
		id, packet_id, from_int, from_str, to_int, to_str, channel,
		portnum, decoded_data, hop_limit, hop_start, rx_time, rx_rssi,
		rx_snr, relay_node, priority, pki_encrypted, receiver_id, logged_time
	) VALUES (
		:id, :packet_id, :from_int, :from_str, :to_int, :to_str, :channel,
		:portnum, :decoded_data, :hop_limit, :hop_start, :rx_time, :rx_rssi,
		:rx_snr, :relay_node, :priority, :pki_encrypted, :receiver_id, :logged_time
	)
	ON CONFLICT (from_int, packet_id, rx_time) DO NOTHING;`

	res, err := s.db.NamedExecContext(ctx, stmt, pkt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	s.recent.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return n == 1, nil
}

func (s *postgresRawPacketStore) ListBySender(ctx context.Context, fromInt int64, limit int) ([]*models.RawPacket, error) {
	query := `SELECT * FROM raw_packets WHERE from_int = $1 ORDER BY rx_time DESC LIMIT $2;`
	pkts := []*models.RawPacket{}
	err := s.db.SelectContext(ctx, &pkts, query, fromInt, limit)
	if err == sql.ErrNoRows {
		return []*models.RawPacket{}, nil
	}
	return pkts, err
}
