package state

import (
	"github.com/jmoiron/sqlx"
)

// AttendeesTable is the persisted attendee roster per meeting. The live room
// roster and this table are kept consistent by the meeting coordinator.
type AttendeesTable struct {
	db *sqlx.DB
}

func NewAttendeesTable(db *sqlx.DB) *AttendeesTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS agape_meeting_attendees (
		meeting_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE(meeting_id, user_id)
	);
	`)
	return &AttendeesTable{db}
}

// InsertAttendee adds the user to the roster. Re-adding an existing attendee
// is a no-op; returns true if the user was newly added.
func (t *AttendeesTable) InsertAttendee(meetingID, userID string) (bool, error) {
	res, err := t.db.Exec(
		`INSERT INTO agape_meeting_attendees(meeting_id, user_id) VALUES($1, $2)
		ON CONFLICT (meeting_id, user_id) DO NOTHING`,
		meetingID, userID,
	)
	if err != nil {
		return false, err
	}
	ra, err := res.RowsAffected()
	return ra > 0, err
}

func (t *AttendeesTable) DeleteAttendee(meetingID, userID string) error {
	_, err := t.db.Exec(
		`DELETE FROM agape_meeting_attendees WHERE meeting_id=$1 AND user_id=$2`,
		meetingID, userID,
	)
	return err
}

func (t *AttendeesTable) SelectAttendeeIDs(meetingID string) ([]string, error) {
	var ids []string
	err := t.db.Select(&ids, `SELECT user_id FROM agape_meeting_attendees WHERE meeting_id=$1`, meetingID)
	return ids, err
}
