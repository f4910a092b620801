package live

// Room names are the addressable broadcast scopes. They are pure functions of
// domain identifiers so every component resolves the same name independently.

const RoomMinistry = "ministry"

func UserRoom(userID string) string {
	return "user:" + userID
}

func CampRoom(campID string) string {
	return "camp:" + campID
}

func MeetingRoom(meetingID string) string {
	return "meeting:" + meetingID
}

// PairwiseRoom is the 1:1 chat room for two users. The IDs are ordered
// lexicographically so both participants resolve to the same name.
func PairwiseRoom(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "chat:" + a + "_" + b
}

// ScopeRooms is the deterministic set of rooms a user is auto-joined to on
// connect: their personal room, the ministry-wide room, and their camp room
// if affiliated. Meeting rooms are joined explicitly, never here.
func ScopeRooms(userID, campID string) []string {
	rooms := []string{UserRoom(userID), RoomMinistry}
	if campID != "" {
		rooms = append(rooms, CampRoom(campID))
	}
	return rooms
}
