package live

import (
	"context"
	"database/sql"
	"testing"

	"github.com/agape-platform/realtime/internal"
	"github.com/agape-platform/realtime/state"
)

func addMeeting(store *fakeStore, meetingID, hostID, campID, status string) {
	store.meetings[meetingID] = &state.Meeting{
		MeetingID: meetingID,
		Title:     "Weekly Gathering",
		HostID:    hostID,
		CampID:    sql.NullString{String: campID, Valid: campID != ""},
		Status:    status,
	}
}

func TestJoinMeetingAnnouncesFirstJoinOnly(t *testing.T) {
	store := newFakeStore()
	store.addUser("host", "camp1")
	store.addUser("alice", "camp1")
	addMeeting(store, "m1", "host", "camp1", state.MeetingInProgress)
	h := newTestHub(t, store)
	host := connect(t, h, "host", "camp1")
	alicePhone := connect(t, h, "alice", "camp1")
	aliceLaptop := connect(t, h, "alice", "camp1")
	drainFrames(host)

	if herr := h.JoinMeeting(context.Background(), host, &JoinMeetingEvent{MeetingID: "m1", UserID: "host"}); herr != nil {
		t.Fatalf("host join: %s", herr)
	}
	roster := nextFrame(t, host, EvMeetingJoined)
	if got := roster.Get("data.attendees").Array(); len(got) != 1 || got[0].Str != "host" {
		t.Errorf("host roster ack: %s", roster.Raw)
	}
	if herr := h.JoinMeeting(context.Background(), alicePhone, &JoinMeetingEvent{MeetingID: "m1", UserID: "alice"}); herr != nil {
		t.Fatalf("alice join: %s", herr)
	}
	// the joiner gets the full roster back, sorted
	roster = nextFrame(t, alicePhone, EvMeetingJoined)
	attendees := roster.Get("data.attendees").Array()
	if len(attendees) != 2 || attendees[0].Str != "alice" || attendees[1].Str != "host" {
		t.Errorf("alice roster ack: %s", roster.Raw)
	}
	frame := nextFrame(t, host, EvUserJoinedMeeting)
	if got := frame.Get("data.user_id").Str; got != "alice" {
		t.Errorf("joined user: got %q want alice", got)
	}
	// the joiner does not hear their own announcement
	assertNoFrames(t, alicePhone)

	// second device gets its roster ack but is not re-announced
	if herr := h.JoinMeeting(context.Background(), aliceLaptop, &JoinMeetingEvent{MeetingID: "m1", UserID: "alice"}); herr != nil {
		t.Fatalf("alice second device join: %s", herr)
	}
	nextFrame(t, aliceLaptop, EvMeetingJoined)
	assertNoFrames(t, host)
	if got := h.tracker.NumMembers(MeetingRoom("m1")); got != 3 {
		t.Errorf("meeting room members: got %d want 3", got)
	}
	if !store.attendees["m1"]["alice"] {
		t.Errorf("alice not recorded as attendee")
	}
}

func TestJoinMeetingRejections(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "")
	addMeeting(store, "done", "host", "", state.MeetingCompleted)
	h := newTestHub(t, store)
	alice := connect(t, h, "alice", "")

	herr := h.JoinMeeting(context.Background(), alice, &JoinMeetingEvent{MeetingID: "ghost", UserID: "alice"})
	assertErrKind(t, herr, internal.KindValidation)

	herr = h.JoinMeeting(context.Background(), alice, &JoinMeetingEvent{MeetingID: "done", UserID: "alice"})
	assertErrKind(t, herr, internal.KindState)

	herr = h.JoinMeeting(context.Background(), alice, &JoinMeetingEvent{MeetingID: "done", UserID: "bob"})
	assertErrKind(t, herr, internal.KindAuthorization)
}

func TestLeaveMeeting(t *testing.T) {
	store := newFakeStore()
	store.addUser("host", "")
	store.addUser("alice", "")
	addMeeting(store, "m1", "host", "", state.MeetingInProgress)
	h := newTestHub(t, store)
	host := connect(t, h, "host", "")
	alice := connect(t, h, "alice", "")
	h.JoinMeeting(context.Background(), host, &JoinMeetingEvent{MeetingID: "m1", UserID: "host"})
	h.JoinMeeting(context.Background(), alice, &JoinMeetingEvent{MeetingID: "m1", UserID: "alice"})
	drainFrames(host)

	if herr := h.LeaveMeeting(context.Background(), alice, &LeaveMeetingEvent{MeetingID: "m1", UserID: "alice"}); herr != nil {
		t.Fatalf("leave: %s", herr)
	}
	frame := nextFrame(t, host, EvUserLeftMeeting)
	if got := frame.Get("data.user_id").Str; got != "alice" {
		t.Errorf("left user: got %q want alice", got)
	}
	if store.attendees["m1"]["alice"] {
		t.Errorf("alice still recorded as attendee of a live meeting")
	}
	if got := h.tracker.NumMembers(MeetingRoom("m1")); got != 1 {
		t.Errorf("meeting room members: got %d want 1", got)
	}
}

func TestLeaveCompletedMeetingKeepsAttendanceHistory(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "")
	addMeeting(store, "m1", "host", "", state.MeetingInProgress)
	h := newTestHub(t, store)
	alice := connect(t, h, "alice", "")
	h.JoinMeeting(context.Background(), alice, &JoinMeetingEvent{MeetingID: "m1", UserID: "alice"})
	store.meetings["m1"].Status = state.MeetingCompleted

	if herr := h.LeaveMeeting(context.Background(), alice, &LeaveMeetingEvent{MeetingID: "m1", UserID: "alice"}); herr != nil {
		t.Fatalf("leave: %s", herr)
	}
	if !store.attendees["m1"]["alice"] {
		t.Errorf("attendance record of a completed meeting was erased")
	}
	if got := h.tracker.NumMembers(MeetingRoom("m1")); got != 0 {
		t.Errorf("room membership outlived participation")
	}
}

func TestStartMeeting(t *testing.T) {
	store := newFakeStore()
	store.addUser("host", "camp1")
	store.addUser("alice", "camp1")
	addMeeting(store, "m1", "host", "camp1", state.MeetingScheduled)
	h := newTestHub(t, store)
	connect(t, h, "host", "camp1")
	alice := connect(t, h, "alice", "camp1")

	if herr := h.StartMeeting(context.Background(), "m1", "host"); herr != nil {
		t.Fatalf("start: %s", herr)
	}
	// announced to the camp room so members who have not joined hear it
	frame := nextFrame(t, alice, EvMeetingStarted)
	if got := frame.Get("data.status").Str; got != state.MeetingInProgress {
		t.Errorf("status: got %q", got)
	}
	if got := frame.Get("data.title").Str; got != "Weekly Gathering" {
		t.Errorf("title: got %q", got)
	}
	if store.meetings["m1"].Status != state.MeetingInProgress {
		t.Errorf("meeting status not persisted")
	}
}

func TestStartMeetingRejections(t *testing.T) {
	store := newFakeStore()
	store.addUser("host", "")
	addMeeting(store, "m1", "host", "", state.MeetingInProgress)
	addMeeting(store, "m2", "host", "", state.MeetingScheduled)
	h := newTestHub(t, store)
	connect(t, h, "host", "")

	herr := h.StartMeeting(context.Background(), "m1", "host")
	assertErrKind(t, herr, internal.KindState)

	herr = h.StartMeeting(context.Background(), "m2", "impostor")
	assertErrKind(t, herr, internal.KindAuthorization)
	if store.meetings["m2"].Status != state.MeetingScheduled {
		t.Errorf("rejected start mutated the meeting")
	}

	herr = h.StartMeeting(context.Background(), "ghost", "host")
	assertErrKind(t, herr, internal.KindValidation)
}

func TestEndMeetingWithRecording(t *testing.T) {
	store := newFakeStore()
	store.addUser("host", "")
	store.addUser("alice", "")
	addMeeting(store, "m1", "host", "", state.MeetingInProgress)
	h := newTestHub(t, store)
	host := connect(t, h, "host", "")
	alice := connect(t, h, "alice", "")
	h.JoinMeeting(context.Background(), host, &JoinMeetingEvent{MeetingID: "m1", UserID: "host"})
	h.JoinMeeting(context.Background(), alice, &JoinMeetingEvent{MeetingID: "m1", UserID: "alice"})
	drainFrames(host)
	drainFrames(alice)

	if herr := h.EndMeeting(context.Background(), "m1", "host", "https://rec.example/m1"); herr != nil {
		t.Fatalf("end: %s", herr)
	}
	frame := nextFrame(t, alice, EvMeetingEnded)
	if got := frame.Get("data.recording_url").Str; got != "https://rec.example/m1" {
		t.Errorf("recording_url: got %q", got)
	}
	nextFrame(t, host, EvMeetingEnded)
	if store.meetings["m1"].RecordingURL.String != "https://rec.example/m1" {
		t.Errorf("recording not persisted")
	}

	// ending twice is a state error
	herr := h.EndMeeting(context.Background(), "m1", "host", "")
	assertErrKind(t, herr, internal.KindState)
}

func TestCancelMeeting(t *testing.T) {
	store := newFakeStore()
	store.addUser("host", "camp1")
	store.addUser("alice", "camp1")
	addMeeting(store, "m1", "host", "camp1", state.MeetingScheduled)
	h := newTestHub(t, store)
	connect(t, h, "host", "camp1")
	alice := connect(t, h, "alice", "camp1")

	if herr := h.CancelMeeting(context.Background(), "m1", "host"); herr != nil {
		t.Fatalf("cancel: %s", herr)
	}
	frame := nextFrame(t, alice, EvMeetingEnded)
	if got := frame.Get("data.status").Str; got != state.MeetingCancelled {
		t.Errorf("status: got %q want cancelled", got)
	}

	// cancelled is terminal
	herr := h.CancelMeeting(context.Background(), "m1", "host")
	assertErrKind(t, herr, internal.KindState)
}

func TestMeetingMessage(t *testing.T) {
	store := newFakeStore()
	store.addUser("host", "")
	store.addUser("alice", "")
	addMeeting(store, "m1", "host", "", state.MeetingInProgress)
	h := newTestHub(t, store)
	host := connect(t, h, "host", "")
	alice := connect(t, h, "alice", "")
	h.JoinMeeting(context.Background(), host, &JoinMeetingEvent{MeetingID: "m1", UserID: "host"})
	h.JoinMeeting(context.Background(), alice, &JoinMeetingEvent{MeetingID: "m1", UserID: "alice"})
	drainFrames(host)
	drainFrames(alice)

	if herr := h.MeetingMessage(context.Background(), alice, &MeetingMessageEvent{MeetingID: "m1", UserID: "alice", Content: "amen"}); herr != nil {
		t.Fatalf("message: %s", herr)
	}
	// broadcast to the whole room, sender included
	for _, conn := range []*Conn{host, alice} {
		frame := nextFrame(t, conn, EvNewMeetingMessage)
		if got := frame.Get("data.content").Str; got != "amen" {
			t.Errorf("content: got %q", got)
		}
		if got := frame.Get("data.message_id").Int(); got == 0 {
			t.Errorf("missing message_id")
		}
	}
	if len(store.meetingMessages) != 1 {
		t.Errorf("meeting message not persisted")
	}
}

func TestMeetingMessageGatedOnInProgress(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "")
	addMeeting(store, "m1", "host", "", state.MeetingScheduled)
	h := newTestHub(t, store)
	alice := connect(t, h, "alice", "")

	herr := h.MeetingMessage(context.Background(), alice, &MeetingMessageEvent{MeetingID: "m1", UserID: "alice", Content: "early"})
	assertErrKind(t, herr, internal.KindState)
	if len(store.meetingMessages) != 0 {
		t.Errorf("gated message was persisted")
	}

	herr = h.MeetingMessage(context.Background(), alice, &MeetingMessageEvent{MeetingID: "m1", UserID: "bob", Content: "x"})
	assertErrKind(t, herr, internal.KindAuthorization)
}

func TestMeetingTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{state.MeetingScheduled, state.MeetingInProgress, true},
		{state.MeetingScheduled, state.MeetingCancelled, true},
		{state.MeetingScheduled, state.MeetingCompleted, false},
		{state.MeetingInProgress, state.MeetingCompleted, true},
		{state.MeetingInProgress, state.MeetingCancelled, true},
		{state.MeetingInProgress, state.MeetingScheduled, false},
		{state.MeetingCompleted, state.MeetingInProgress, false},
		{state.MeetingCancelled, state.MeetingInProgress, false},
	}
	for _, c := range cases {
		if got := canTransition(c.from, c.to); got != c.ok {
			t.Errorf("canTransition(%s, %s) = %v want %v", c.from, c.to, got, c.ok)
		}
	}
}
