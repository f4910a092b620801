package state

import (
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Storage aggregates all the tables the realtime layer reads and writes. It
// satisfies the live package's Store interface; the hub never touches the
// database directly.
type Storage struct {
	Users           *UsersTable
	Meetings        *MeetingsTable
	Attendees       *AttendeesTable
	Messages        *MessagesTable
	MeetingMessages *MeetingMessagesTable
	Notifications   *NotificationsTable
	DB              *sqlx.DB
}

func NewStorage(postgresURI string) *Storage {
	db, err := sqlx.Open("postgres", postgresURI)
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Str("uri", postgresURI).Msg("failed to open SQL DB")
	}
	return NewStorageWithDB(db)
}

func NewStorageWithDB(db *sqlx.DB) *Storage {
	return &Storage{
		Users:           NewUsersTable(db),
		Meetings:        NewMeetingsTable(db),
		Attendees:       NewAttendeesTable(db),
		Messages:        NewMessagesTable(db),
		MeetingMessages: NewMeetingMessagesTable(db),
		Notifications:   NewNotificationsTable(db),
		DB:              db,
	}
}

func (s *Storage) Teardown() {
	if err := s.DB.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close DB")
	}
}

// The methods below are the store surface consumed by the live package.

func (s *Storage) User(userID string) (*User, error) {
	return s.Users.SelectUser(userID)
}

func (s *Storage) CampMemberIDs(campID string) ([]string, error) {
	return s.Users.SelectCampMemberIDs(campID)
}

func (s *Storage) AllActiveUserIDs() ([]string, error) {
	return s.Users.SelectAllActiveUserIDs()
}

func (s *Storage) InsertMessage(m *Message) (int64, error) {
	return s.Messages.InsertMessage(m)
}

func (s *Storage) InsertMeetingMessage(m *MeetingMessage) (int64, error) {
	return s.MeetingMessages.InsertMeetingMessage(m)
}

func (s *Storage) InsertNotifications(notifs []Notification) error {
	return s.Notifications.BulkInsertNotifications(notifs)
}

func (s *Storage) MarkNotificationsRead(userID string) (int64, error) {
	return s.Notifications.MarkAllRead(userID)
}

func (s *Storage) UnreadNotificationCount(userID string) (int, error) {
	return s.Notifications.SelectUnreadCount(userID)
}

func (s *Storage) Meeting(meetingID string) (*Meeting, error) {
	return s.Meetings.SelectMeeting(meetingID)
}

func (s *Storage) UpdateMeetingStatus(meetingID, status string, recordingURL *string) error {
	return s.Meetings.UpdateStatus(meetingID, status, recordingURL)
}

func (s *Storage) AddAttendee(meetingID, userID string) (bool, error) {
	return s.Attendees.InsertAttendee(meetingID, userID)
}

func (s *Storage) RemoveAttendee(meetingID, userID string) error {
	return s.Attendees.DeleteAttendee(meetingID, userID)
}

func (s *Storage) AttendeeIDs(meetingID string) ([]string, error) {
	return s.Attendees.SelectAttendeeIDs(meetingID)
}
