package state

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// Notification is one row per recipient, generated at fan-out time. The
// acting identity never gets a row for its own event.
type Notification struct {
	NotificationID int64     `db:"notification_id"`
	RecipientID    string    `db:"recipient_id"`
	Title          string    `db:"title"`
	Body           string    `db:"body"`
	RelatedType    string    `db:"related_type"`
	RelatedID      string    `db:"related_id"`
	IsRead         bool      `db:"is_read"`
	CreatedAt      time.Time `db:"created_at"`
}

type NotificationsTable struct {
	db *sqlx.DB
}

func NewNotificationsTable(db *sqlx.DB) *NotificationsTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS agape_notifications (
		notification_id BIGSERIAL NOT NULL PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		related_type TEXT NOT NULL DEFAULT '',
		related_id TEXT NOT NULL DEFAULT '',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS agape_notifications_recipient_idx ON agape_notifications(recipient_id, is_read);
	`)
	return &NotificationsTable{db}
}

// BulkInsertNotifications inserts one row per recipient in a single
// transaction: either the whole fan-out is durable or none of it is.
func (t *NotificationsTable) BulkInsertNotifications(notifs []Notification) error {
	if len(notifs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range notifs {
		notifs[i].CreatedAt = now
	}
	return WithTransaction(t.db, func(txn *sqlx.Tx) error {
		_, err := txn.NamedExec(
			`INSERT INTO agape_notifications(recipient_id, title, body, related_type, related_id, is_read, created_at)
			VALUES(:recipient_id, :title, :body, :related_type, :related_id, :is_read, :created_at)`,
			notifs,
		)
		return err
	})
}

// MarkAllRead flips every unread notification for this user and returns how
// many rows changed.
func (t *NotificationsTable) MarkAllRead(userID string) (int64, error) {
	res, err := t.db.Exec(
		`UPDATE agape_notifications SET is_read=TRUE WHERE recipient_id=$1 AND NOT is_read`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *NotificationsTable) SelectUnreadCount(userID string) (int, error) {
	var count int
	err := t.db.QueryRow(
		`SELECT count(*) FROM agape_notifications WHERE recipient_id=$1 AND NOT is_read`,
		userID,
	).Scan(&count)
	return count, err
}
