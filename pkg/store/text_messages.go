package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/meshflow/meshflow-server/pkg/models"
)

// TextMessageStore persists text-message projections.
type TextMessageStore interface {
	Add(ctx context.Context, m *models.TextMessage) error
	// ListRecent retrieves the newest messages across all nodes.
	ListRecent(ctx context.Context, limit int) ([]*models.TextMessage, error)
}

type postgresTextMessageStore struct {
	db *sqlx.DB
}

// NewTextMessageStore creates a new text message store.
func NewTextMessageStore(dbconn *sqlx.DB) TextMessageStore {
	return &postgresTextMessageStore{db: dbconn}
}

func (s *postgresTextMessageStore) Add(ctx context.Context, m *models.TextMessage) error {
	stmt := `
	INSERT INTO text_messages (
		id, node_internal_id, logged_time, reported_time, recipient_id,
		channel, message_text, is_emoji, reply_packet_id
	) VALUES (
		:id, :node_internal_id, :logged_time, :reported_time, :recipient_id,
		:channel, :message_text, :is_emoji, :reply_packet_id
	);`
	_, err := s.db.NamedExecContext(ctx, stmt, m)
	return err
}

func (s *postgresTextMessageStore) ListRecent(ctx context.Context, limit int) ([]*models.TextMessage, error) {
	query := `SELECT * FROM text_messages ORDER BY reported_time DESC LIMIT $1;`
	rows := []*models.TextMessage{}
	err := s.db.SelectContext(ctx, &rows, query, limit)
	if err == sql.ErrNoRows {
		return []*models.TextMessage{}, nil
	}
	return rows, err
}
