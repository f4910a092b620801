package state

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Meeting statuses. The coordinator in the live package is the single writer
// of transitions between them; this table just persists what it decides.
const (
	MeetingScheduled  = "scheduled"
	MeetingInProgress = "in_progress"
	MeetingCompleted  = "completed"
	MeetingCancelled  = "cancelled"
)

type Meeting struct {
	MeetingID    string         `db:"meeting_id"`
	Title        string         `db:"title"`
	HostID       string         `db:"host_id"`
	CampID       sql.NullString `db:"camp_id"` // NULL = ministry-wide meeting
	Status       string         `db:"status"`
	ScheduledAt  sql.NullTime   `db:"scheduled_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	EndedAt      sql.NullTime   `db:"ended_at"`
	RecordingURL sql.NullString `db:"recording_url"`
}

type MeetingsTable struct {
	db *sqlx.DB
}

func NewMeetingsTable(db *sqlx.DB) *MeetingsTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS agape_meetings (
		meeting_id TEXT NOT NULL PRIMARY KEY,
		title TEXT NOT NULL,
		host_id TEXT NOT NULL,
		camp_id TEXT,
		status TEXT NOT NULL DEFAULT 'scheduled',
		scheduled_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		recording_url TEXT
	);
	`)
	return &MeetingsTable{db}
}

// SelectMeeting returns the meeting with this ID, or nil if none exists.
func (t *MeetingsTable) SelectMeeting(meetingID string) (*Meeting, error) {
	var m Meeting
	err := t.db.Get(&m, `SELECT meeting_id, title, host_id, camp_id, status, scheduled_at, started_at, ended_at, recording_url
	FROM agape_meetings WHERE meeting_id=$1`, meetingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateStatus persists a status transition. Moving to in_progress stamps
// started_at; moving to completed stamps ended_at and the optional recording
// URL. The caller has already validated the transition is legal.
func (t *MeetingsTable) UpdateStatus(meetingID, status string, recordingURL *string) error {
	var err error
	switch status {
	case MeetingInProgress:
		_, err = t.db.Exec(
			`UPDATE agape_meetings SET status=$2, started_at=now() WHERE meeting_id=$1`,
			meetingID, status,
		)
	case MeetingCompleted:
		if recordingURL != nil {
			_, err = t.db.Exec(
				`UPDATE agape_meetings SET status=$2, ended_at=now(), recording_url=$3 WHERE meeting_id=$1`,
				meetingID, status, *recordingURL,
			)
		} else {
			_, err = t.db.Exec(
				`UPDATE agape_meetings SET status=$2, ended_at=now() WHERE meeting_id=$1`,
				meetingID, status,
			)
		}
	case MeetingCancelled, MeetingScheduled:
		_, err = t.db.Exec(
			`UPDATE agape_meetings SET status=$2 WHERE meeting_id=$1`,
			meetingID, status,
		)
	default:
		err = fmt.Errorf("unknown meeting status %q", status)
	}
	return err
}
