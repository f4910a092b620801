package state

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/jmoiron/sqlx"
)

// Message is a durable chat message. The REST layer reads these back for
// history; the realtime layer only ever inserts (the insert is what mints the
// durable message ID that fan-out and client reconciliation use).
type Message struct {
	MessageID      int64     `db:"message_id"`
	Content        string    `db:"content"`
	SenderID       string    `db:"sender_id"`
	ScopeType      string    `db:"scope_type"`
	ScopeID        string    `db:"scope_id"` // empty for ministry scope
	MessageType    string    `db:"message_type"`
	IsAnnouncement bool      `db:"is_announcement"`
	CreatedAt      time.Time `db:"created_at"`
	// Attachment URLs, stored as a single CBOR blob: never searched, only
	// round-tripped, so a compact binary column beats a join table.
	Attachments []string `db:"-"`
}

type MessagesTable struct {
	db *sqlx.DB
}

func NewMessagesTable(db *sqlx.DB) *MessagesTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS agape_messages (
		message_id BIGSERIAL NOT NULL PRIMARY KEY,
		content TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_id TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL DEFAULT 'text',
		is_announcement BOOLEAN NOT NULL DEFAULT FALSE,
		attachments BYTEA,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`)
	return &MessagesTable{db}
}

// InsertMessage persists the message and returns its durable ID. CreatedAt is
// stamped here so the broadcast and the stored row agree on the timestamp.
func (t *MessagesTable) InsertMessage(m *Message) (int64, error) {
	var blob []byte
	var err error
	if len(m.Attachments) > 0 {
		blob, err = cbor.Marshal(m.Attachments)
		if err != nil {
			return 0, err
		}
	}
	m.CreatedAt = time.Now().UTC()
	var id int64
	err = t.db.QueryRow(
		`INSERT INTO agape_messages(content, sender_id, scope_type, scope_id, message_type, is_announcement, attachments, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8) RETURNING message_id`,
		m.Content, m.SenderID, m.ScopeType, m.ScopeID, m.MessageType, m.IsAnnouncement, blob, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	m.MessageID = id
	return id, nil
}
