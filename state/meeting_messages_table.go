package state

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// MeetingMessage is in-meeting chat, kept separate from the main messages
// table as its lifetime is tied to the meeting, not to a conversation scope.
type MeetingMessage struct {
	MessageID int64     `db:"message_id"`
	MeetingID string    `db:"meeting_id"`
	SenderID  string    `db:"sender_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

type MeetingMessagesTable struct {
	db *sqlx.DB
}

func NewMeetingMessagesTable(db *sqlx.DB) *MeetingMessagesTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS agape_meeting_messages (
		message_id BIGSERIAL NOT NULL PRIMARY KEY,
		meeting_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS agape_meeting_messages_meeting_idx ON agape_meeting_messages(meeting_id);
	`)
	return &MeetingMessagesTable{db}
}

func (t *MeetingMessagesTable) InsertMeetingMessage(m *MeetingMessage) (int64, error) {
	m.CreatedAt = time.Now().UTC()
	var id int64
	err := t.db.QueryRow(
		`INSERT INTO agape_meeting_messages(meeting_id, sender_id, content, created_at)
		VALUES($1, $2, $3, $4) RETURNING message_id`,
		m.MeetingID, m.SenderID, m.Content, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	m.MessageID = id
	return id, nil
}
