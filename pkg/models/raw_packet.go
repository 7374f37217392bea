package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow-server/pkg/mesh"
)

// RawPacket is the append-only record of every accepted packet. Identity
// for dedup purposes is the (from_int, packet_id, rx_time) tuple; a second
// delivery of the same tuple is dropped without side effects.
type RawPacket struct {
	ID           uuid.UUID    `db:"id"`
	PacketID     int64        `db:"packet_id"`
	FromInt      mesh.NodeID  `db:"from_int"`
	FromStr      string       `db:"from_str"`
	ToInt        *mesh.NodeID `db:"to_int"`
	ToStr        *string      `db:"to_str"`
	Channel      *int16       `db:"channel"`
	Portnum      *string      `db:"portnum"`
	DecodedData  []byte       `db:"decoded_data"`
	HopLimit     *int16       `db:"hop_limit"`
	HopStart     *int16       `db:"hop_start"`
	RxTime       time.Time    `db:"rx_time"`
	RxRssi       *float64     `db:"rx_rssi"`
	RxSnr        *float64     `db:"rx_snr"`
	RelayNode    *int64       `db:"relay_node"`
	Priority     *string      `db:"priority"`
	PkiEncrypted *bool        `db:"pki_encrypted"`
	ReceiverID   *uuid.UUID   `db:"receiver_id"`
	LoggedTime   time.Time    `db:"logged_time"`
}

// DedupKey identifies one physical transmission. Rebroadcasts picked up by
// different relays share it; distinct transmissions never do.
type DedupKey struct {
	From     mesh.NodeID
	PacketID int64
	RxTime   int64 // unix seconds
}

func (p *RawPacket) DedupKey() DedupKey {
	return DedupKey{From: p.FromInt, PacketID: p.PacketID, RxTime: p.RxTime.Unix()}
}
