package live

import "testing"

func TestRegistryRegisterDeregister(t *testing.T) {
	r := NewRegistry()
	info := UserInfo{UserID: "alice", Name: "Alice T", Role: "member"}

	if !r.Register("c1", info) {
		t.Fatalf("first connection should report user came online")
	}
	if r.Register("c2", info) {
		t.Fatalf("second connection should not report user came online")
	}
	// re-registering a known connection is a no-op
	if r.Register("c1", info) {
		t.Fatalf("repeat register of same conn should be a no-op")
	}
	if got := r.NumConns("alice"); got != 2 {
		t.Fatalf("NumConns: got %d want 2", got)
	}

	userID, wentOffline := r.Deregister("c1")
	if userID != "alice" || wentOffline {
		t.Fatalf("Deregister(c1): got (%q, %v) want (alice, false)", userID, wentOffline)
	}
	userID, wentOffline = r.Deregister("c2")
	if userID != "alice" || !wentOffline {
		t.Fatalf("Deregister(c2): got (%q, %v) want (alice, true)", userID, wentOffline)
	}
	if got := r.StatusOf("alice"); got != StatusOffline {
		t.Fatalf("status after last disconnect: got %s want offline", got)
	}
}

func TestRegistryDeregisterUnknownConn(t *testing.T) {
	r := NewRegistry()
	userID, wentOffline := r.Deregister("nope")
	if userID != "" || wentOffline {
		t.Fatalf("unknown conn: got (%q, %v) want (\"\", false)", userID, wentOffline)
	}
}

func TestRegistrySetStatus(t *testing.T) {
	r := NewRegistry()
	// no session: status change must not resurrect presence
	if r.SetStatus("alice", StatusBusy) {
		t.Fatalf("SetStatus with no session should be a no-op")
	}
	r.Register("c1", UserInfo{UserID: "alice"})
	if !r.SetStatus("alice", StatusBusy) {
		t.Fatalf("SetStatus with a live session should apply")
	}
	if got := r.StatusOf("alice"); got != StatusBusy {
		t.Fatalf("StatusOf: got %s want busy", got)
	}
	r.Deregister("c1")
	if got := r.StatusOf("alice"); got != StatusOffline {
		t.Fatalf("StatusOf after disconnect: got %s want offline", got)
	}
}

func TestRegistryStatusSurvivesOtherDeviceDisconnect(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", UserInfo{UserID: "alice"})
	r.Register("c2", UserInfo{UserID: "alice"})
	r.SetStatus("alice", StatusInMeeting)
	r.Deregister("c1")
	if got := r.StatusOf("alice"); got != StatusInMeeting {
		t.Fatalf("status after partial disconnect: got %s want in_meeting", got)
	}
}

func TestRegistryListActiveSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", UserInfo{UserID: "zoe", Name: "Zoe"})
	r.Register("c2", UserInfo{UserID: "alice", Name: "Alice"})
	r.Register("c3", UserInfo{UserID: "bob", Name: "Bob"})
	r.SetStatus("bob", StatusAway)

	active := r.ListActive()
	if len(active) != 3 {
		t.Fatalf("ListActive: got %d want 3", len(active))
	}
	wantOrder := []string{"alice", "bob", "zoe"}
	for i, want := range wantOrder {
		if active[i].UserID != want {
			t.Fatalf("ListActive[%d]: got %s want %s", i, active[i].UserID, want)
		}
	}
	if active[1].Status != StatusAway {
		t.Fatalf("bob's status: got %s want away", active[1].Status)
	}
}

func TestRegistryInfoFor(t *testing.T) {
	r := NewRegistry()
	info := UserInfo{UserID: "alice", Name: "Alice T", Role: "leader", ProfileImage: "img.png"}
	r.Register("c1", info)
	got, ok := r.InfoFor("alice")
	if !ok || got != info {
		t.Fatalf("InfoFor: got (%+v, %v)", got, ok)
	}
	if _, ok := r.InfoFor("ghost"); ok {
		t.Fatalf("InfoFor unknown user should report not found")
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusOnline, StatusAway, StatusBusy, StatusInMeeting, StatusOffline} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%s) = false", s)
		}
	}
	if ValidStatus("sleeping") {
		t.Errorf("ValidStatus accepted an unknown status")
	}
}
