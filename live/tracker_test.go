package live

import (
	"testing"

	"golang.org/x/exp/slices"
)

func assertMembers(t *testing.T, tracker *RoomTracker, room string, want []ConnID) {
	t.Helper()
	got := tracker.ConnsForRoom(room, nil)
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Fatalf("room %q members: got %v want %v", room, got, want)
	}
}

func TestTrackerJoinLeave(t *testing.T) {
	tracker := NewRoomTracker()
	if !tracker.Join("c1", "ministry") {
		t.Fatalf("first join should report newly added")
	}
	if tracker.Join("c1", "ministry") {
		t.Fatalf("repeat join should be a no-op")
	}
	tracker.Join("c2", "ministry")
	tracker.Join("c1", "camp:youth")
	assertMembers(t, tracker, "ministry", []ConnID{"c1", "c2"})
	assertMembers(t, tracker, "camp:youth", []ConnID{"c1"})

	tracker.Leave("c1", "ministry")
	assertMembers(t, tracker, "ministry", []ConnID{"c2"})

	// leaving a room never joined is a no-op
	tracker.Leave("c2", "camp:youth")
	assertMembers(t, tracker, "camp:youth", []ConnID{"c1"})
}

func TestTrackerLeaveAll(t *testing.T) {
	tracker := NewRoomTracker()
	tracker.Join("c1", "ministry")
	tracker.Join("c1", "camp:youth")
	tracker.Join("c1", "user:alice")
	tracker.Join("c2", "ministry")

	left := tracker.LeaveAll("c1")
	if len(left) != 3 {
		t.Fatalf("LeaveAll: got %d rooms want 3", len(left))
	}
	if tracker.RoomsForConn("c1") != nil {
		t.Fatalf("c1 still has rooms after LeaveAll")
	}
	assertMembers(t, tracker, "ministry", []ConnID{"c2"})

	if got := tracker.LeaveAll("c1"); got != nil {
		t.Fatalf("second LeaveAll should return nil, got %v", got)
	}
}

func TestTrackerEmptyRoomsAreDeleted(t *testing.T) {
	tracker := NewRoomTracker()
	tracker.Join("c1", "meeting:m1")
	tracker.Join("c2", "meeting:m1")
	if tracker.NumRooms() != 1 {
		t.Fatalf("NumRooms: got %d want 1", tracker.NumRooms())
	}
	tracker.Leave("c1", "meeting:m1")
	tracker.Leave("c2", "meeting:m1")
	if tracker.NumRooms() != 0 {
		t.Fatalf("empty room was not deleted, NumRooms=%d", tracker.NumRooms())
	}
	if tracker.NumMembers("meeting:m1") != 0 {
		t.Fatalf("NumMembers for deleted room should be 0")
	}
}

func TestTrackerFilter(t *testing.T) {
	tracker := NewRoomTracker()
	tracker.Join("c1", "ministry")
	tracker.Join("c2", "ministry")
	got := tracker.ConnsForRoom("ministry", func(connID ConnID) bool {
		return connID != "c1"
	})
	if len(got) != 1 || got[0] != "c2" {
		t.Fatalf("filtered members: got %v want [c2]", got)
	}
}

func TestPairwiseRoomIsOrderIndependent(t *testing.T) {
	if PairwiseRoom("alice", "bob") != PairwiseRoom("bob", "alice") {
		t.Fatalf("pairwise room should not depend on argument order")
	}
	if PairwiseRoom("alice", "bob") != "chat:alice_bob" {
		t.Fatalf("unexpected pairwise room name: %s", PairwiseRoom("alice", "bob"))
	}
}

func TestScopeRooms(t *testing.T) {
	got := ScopeRooms("alice", "youth")
	want := []string{"user:alice", "ministry", "camp:youth"}
	if !slices.Equal(got, want) {
		t.Fatalf("ScopeRooms: got %v want %v", got, want)
	}
	got = ScopeRooms("bob", "")
	want = []string{"user:bob", "ministry"}
	if !slices.Equal(got, want) {
		t.Fatalf("ScopeRooms without camp: got %v want %v", got, want)
	}
}
