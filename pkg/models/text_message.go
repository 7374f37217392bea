package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow-server/pkg/mesh"
)

// TextMessage is one stored text-message packet. Claim evaluation is a
// side-channel consumer of these; the message is stored normally whether
// or not it matched a claim key.
type TextMessage struct {
	ID             uuid.UUID    `db:"id"`
	NodeInternalID uuid.UUID    `db:"node_internal_id"`
	LoggedTime     time.Time    `db:"logged_time"`
	ReportedTime   time.Time    `db:"reported_time"`
	RecipientID    *mesh.NodeID `db:"recipient_id"`
	Channel        *int16       `db:"channel"`
	MessageText    string       `db:"message_text"`
	IsEmoji        bool         `db:"is_emoji"`
	ReplyPacketID  *int64       `db:"reply_packet_id"`
}

// IsBroadcast reports whether the message was addressed to the whole mesh.
func (m *TextMessage) IsBroadcast() bool {
	return m.RecipientID != nil && *m.RecipientID == mesh.BROADCAST_ID
}
