package live

import (
	"context"
	"time"

	"github.com/agape-platform/realtime/internal"
	"github.com/agape-platform/realtime/state"
)

// legal meeting status transitions. Anything absent is rejected with a state
// error before any side effect.
var meetingTransitions = map[string][]string{
	state.MeetingScheduled:  {state.MeetingInProgress, state.MeetingCancelled},
	state.MeetingInProgress: {state.MeetingCompleted, state.MeetingCancelled},
}

func canTransition(from, to string) bool {
	for _, next := range meetingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MeetingCoordinator owns the meeting lifecycle and its room. All methods are
// unexported and called only under the hub mutex, so a start and an end for
// the same meeting can never interleave.
type MeetingCoordinator struct {
	hub   *Hub
	store Store
}

// join puts the connection in the meeting room and records attendance. The
// roster announcement excludes the joiner and fires only on the user's first
// join; rejoining on another device adds the connection silently.
func (c *MeetingCoordinator) join(ctx context.Context, conn *Conn, meetingID, userID string) *internal.HandlerError {
	if meetingID == "" || userID == "" {
		return internal.NewValidationError("meeting_id and user_id are required")
	}
	if userID != conn.UserID() {
		return internal.NewAuthorizationError("cannot join a meeting as another user")
	}
	m, err := c.store.Meeting(meetingID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if m == nil {
		return internal.NewValidationError("unknown meeting %q", meetingID)
	}
	if m.Status != state.MeetingScheduled && m.Status != state.MeetingInProgress {
		return internal.NewStateError("meeting is %s", m.Status)
	}
	newlyAdded, err := c.store.AddAttendee(meetingID, userID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	room := MeetingRoom(meetingID)
	c.hub.tracker.Join(conn.ID, room)
	// ack the joining connection with the current roster so it can render
	// attendees without a separate query.
	attendees, err := c.store.AttendeeIDs(meetingID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	conn.Push(EvMeetingJoined, MeetingJoinedPayload{
		MeetingID: meetingID,
		Status:    m.Status,
		Attendees: attendees,
	})
	if newlyAdded {
		info, _ := c.hub.registry.InfoFor(userID)
		c.hub.fanout(EvUserJoinedMeeting, Frame(EvUserJoinedMeeting, MeetingRosterPayload{
			MeetingID:    meetingID,
			UserID:       userID,
			UserName:     info.Name,
			ProfileImage: info.ProfileImage,
			Timestamp:    time.Now().UTC(),
		}), []string{room}, conn.ID)
	}
	return nil
}

// leave always removes the connection from the room, even when the meeting
// row has moved to a terminal state underneath it, so tracker membership can
// never outlive participation. Attendance is only rewritten while the meeting
// is still live; completed records are history.
func (c *MeetingCoordinator) leave(ctx context.Context, conn *Conn, meetingID, userID string) *internal.HandlerError {
	if meetingID == "" || userID == "" {
		return internal.NewValidationError("meeting_id and user_id are required")
	}
	room := MeetingRoom(meetingID)
	c.hub.tracker.Leave(conn.ID, room)
	m, err := c.store.Meeting(meetingID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if m != nil && (m.Status == state.MeetingScheduled || m.Status == state.MeetingInProgress) {
		if err := c.store.RemoveAttendee(meetingID, userID); err != nil {
			return internal.NewStoreError(err)
		}
	}
	c.hub.fanout(EvUserLeftMeeting, Frame(EvUserLeftMeeting, MeetingRosterPayload{
		MeetingID: meetingID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}), []string{room}, conn.ID)
	return nil
}

// start moves scheduled -> in_progress. Only the host may start; the
// announcement goes to the meeting's owning scope so members who have not
// joined the room yet still hear about it.
func (c *MeetingCoordinator) start(ctx context.Context, meetingID, hostID string) *internal.HandlerError {
	m, err := c.store.Meeting(meetingID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if m == nil {
		return internal.NewValidationError("unknown meeting %q", meetingID)
	}
	if hostID != m.HostID {
		return internal.NewAuthorizationError("only the host can start the meeting")
	}
	if !canTransition(m.Status, state.MeetingInProgress) {
		return internal.NewStateError("cannot start a meeting that is %s", m.Status)
	}
	if err := c.store.UpdateMeetingStatus(meetingID, state.MeetingInProgress, nil); err != nil {
		return internal.NewStoreError(err)
	}
	scope := RoomMinistry
	if m.CampID.Valid {
		scope = CampRoom(m.CampID.String)
	}
	c.hub.fanout(EvMeetingStarted, Frame(EvMeetingStarted, MeetingStartedPayload{
		MeetingID: meetingID,
		Title:     m.Title,
		HostID:    m.HostID,
		CampID:    m.CampID.String,
		Status:    state.MeetingInProgress,
		StartedAt: time.Now().UTC(),
	}), []string{scope})
	logger.Info().Str("meeting", meetingID).Str("host", hostID).Msg("meeting started")
	return nil
}

// end moves in_progress -> completed, stamping the optional recording URL.
// The announcement goes to the meeting room itself; everyone present is told
// to wind down.
func (c *MeetingCoordinator) end(ctx context.Context, meetingID, hostID, recordingURL string) *internal.HandlerError {
	m, err := c.store.Meeting(meetingID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if m == nil {
		return internal.NewValidationError("unknown meeting %q", meetingID)
	}
	if hostID != m.HostID {
		return internal.NewAuthorizationError("only the host can end the meeting")
	}
	if !canTransition(m.Status, state.MeetingCompleted) {
		return internal.NewStateError("cannot end a meeting that is %s", m.Status)
	}
	var rec *string
	if recordingURL != "" {
		rec = &recordingURL
	}
	if err := c.store.UpdateMeetingStatus(meetingID, state.MeetingCompleted, rec); err != nil {
		return internal.NewStoreError(err)
	}
	c.hub.fanout(EvMeetingEnded, Frame(EvMeetingEnded, MeetingEndedPayload{
		MeetingID:    meetingID,
		Status:       state.MeetingCompleted,
		EndedAt:      time.Now().UTC(),
		RecordingURL: recordingURL,
	}), []string{MeetingRoom(meetingID)})
	logger.Info().Str("meeting", meetingID).Str("host", hostID).Msg("meeting ended")
	return nil
}

// cancel is host-driven like end but is legal from scheduled too, and there
// is no recording. Announced to the owning scope, since a scheduled meeting
// has no populated room yet.
func (c *MeetingCoordinator) cancel(ctx context.Context, meetingID, actorID string) *internal.HandlerError {
	m, err := c.store.Meeting(meetingID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if m == nil {
		return internal.NewValidationError("unknown meeting %q", meetingID)
	}
	if actorID != m.HostID {
		return internal.NewAuthorizationError("only the host can cancel the meeting")
	}
	if !canTransition(m.Status, state.MeetingCancelled) {
		return internal.NewStateError("cannot cancel a meeting that is %s", m.Status)
	}
	if err := c.store.UpdateMeetingStatus(meetingID, state.MeetingCancelled, nil); err != nil {
		return internal.NewStoreError(err)
	}
	scope := RoomMinistry
	if m.CampID.Valid {
		scope = CampRoom(m.CampID.String)
	}
	c.hub.fanout(EvMeetingEnded, Frame(EvMeetingEnded, MeetingEndedPayload{
		MeetingID: meetingID,
		Status:    state.MeetingCancelled,
		EndedAt:   time.Now().UTC(),
	}), []string{scope, MeetingRoom(meetingID)})
	logger.Info().Str("meeting", meetingID).Str("actor", actorID).Msg("meeting cancelled")
	return nil
}

// message is in-meeting chat: persist, then broadcast to the meeting room
// including the sender, whose clients render from the broadcast.
func (c *MeetingCoordinator) message(ctx context.Context, conn *Conn, ev *MeetingMessageEvent) *internal.HandlerError {
	if ev.MeetingID == "" || ev.UserID == "" || ev.Content == "" {
		return internal.NewValidationError("meeting_id, user_id and content are required")
	}
	if ev.UserID != conn.UserID() {
		return internal.NewAuthorizationError("cannot send as another user")
	}
	m, err := c.store.Meeting(ev.MeetingID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if m == nil {
		return internal.NewValidationError("unknown meeting %q", ev.MeetingID)
	}
	if m.Status != state.MeetingInProgress {
		return internal.NewStateError("meeting chat is only open while the meeting is in progress")
	}
	msg := &state.MeetingMessage{
		MeetingID: ev.MeetingID,
		SenderID:  ev.UserID,
		Content:   ev.Content,
	}
	messageID, err := c.store.InsertMeetingMessage(msg)
	if err != nil {
		return internal.NewStoreError(err)
	}
	info, _ := c.hub.registry.InfoFor(ev.UserID)
	c.hub.fanout(EvNewMeetingMessage, Frame(EvNewMeetingMessage, MeetingMessagePayload{
		MessageID:    messageID,
		MeetingID:    ev.MeetingID,
		UserID:       ev.UserID,
		UserName:     info.Name,
		ProfileImage: info.ProfileImage,
		Content:      ev.Content,
		CreatedAt:    msg.CreatedAt,
	}), []string{MeetingRoom(ev.MeetingID)})
	return nil
}
