package live

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

type Status string

const (
	StatusOnline    Status = "online"
	StatusAway      Status = "away"
	StatusBusy      Status = "busy"
	StatusInMeeting Status = "in_meeting"
	StatusOffline   Status = "offline"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusInMeeting, StatusOffline:
		return true
	}
	return false
}

// UserInfo is the display identity attached to a presence entry, resolved
// once at authentication time.
type UserInfo struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	ProfileImage string `json:"profile_image,omitempty"`
}

type ActiveUser struct {
	UserID   string   `json:"user_id"`
	Status   Status   `json:"status"`
	UserInfo UserInfo `json:"user_info"`
}

type presenceEntry struct {
	status Status
	conns  map[ConnID]struct{}
	info   UserInfo
}

// Registry tracks live connections and multi-session presence per user. An
// entry exists only while the user has at least one live connection, which
// keeps the invariant "offline iff connection set is empty" structural: no
// entry means offline. State is process-local and rebuilt on reconnect.
type Registry struct {
	mu         *sync.RWMutex
	users      map[string]*presenceEntry
	connToUser map[ConnID]string
}

func NewRegistry() *Registry {
	return &Registry{
		mu:         &sync.RWMutex{},
		users:      make(map[string]*presenceEntry),
		connToUser: make(map[ConnID]string),
	}
}

// Register adds the connection to the user's session set, creating the
// presence entry on the user's first connection. Returns true if this is the
// first connection, i.e. the user just came online. Registering an already
// registered connection is a no-op.
func (r *Registry) Register(connID ConnID, info UserInfo) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connToUser[connID]; exists {
		return false
	}
	entry := r.users[info.UserID]
	if entry == nil {
		entry = &presenceEntry{
			status: StatusOnline,
			conns:  make(map[ConnID]struct{}),
			info:   info,
		}
		r.users[info.UserID] = entry
		first = true
	}
	entry.conns[connID] = struct{}{}
	r.connToUser[connID] = info.UserID
	return first
}

// Deregister removes the connection from whichever user owns it. Returns the
// owning user and whether they went offline (last connection gone). An
// unknown connection returns ("", false): a disconnect racing a failed
// authentication must not propagate an error.
func (r *Registry) Deregister(connID ConnID) (userID string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.connToUser[connID]
	if !ok {
		return "", false
	}
	delete(r.connToUser, connID)
	entry := r.users[userID]
	if entry == nil {
		logger.Warn().Str("conn", string(connID)).Str("user", userID).Msg("Registry.Deregister: conn mapped to missing entry")
		return userID, false
	}
	delete(entry.conns, connID)
	if len(entry.conns) == 0 {
		delete(r.users, userID)
		return userID, true
	}
	return userID, false
}

// SetStatus overrides the user's presence status. Returns false (no-op) if
// the user has no live session: a status change must not resurrect presence
// for a disconnected user.
func (r *Registry) SetStatus(userID string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.users[userID]
	if entry == nil || len(entry.conns) == 0 {
		return false
	}
	entry.status = status
	return true
}

// StatusOf returns the user's current status; users with no live connection
// are offline by definition.
func (r *Registry) StatusOf(userID string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := r.users[userID]
	if entry == nil || len(entry.conns) == 0 {
		return StatusOffline
	}
	return entry.status
}

func (r *Registry) UserForConn(connID ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.connToUser[connID]
	return userID, ok
}

func (r *Registry) InfoFor(userID string) (UserInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := r.users[userID]
	if entry == nil {
		return UserInfo{}, false
	}
	return entry.info, true
}

func (r *Registry) NumConns(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := r.users[userID]
	if entry == nil {
		return 0
	}
	return len(entry.conns)
}

// ListActive returns all users whose status is not offline and who have at
// least one live connection, sorted by user ID. For presence queries only,
// never for security decisions.
func (r *Registry) ListActive() []ActiveUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ActiveUser, 0, len(r.users))
	for userID, entry := range r.users {
		if entry.status == StatusOffline || len(entry.conns) == 0 {
			continue
		}
		result = append(result, ActiveUser{
			UserID:   userID,
			Status:   entry.status,
			UserInfo: entry.info,
		})
	}
	slices.SortFunc(result, func(a, b ActiveUser) int {
		if a.UserID < b.UserID {
			return -1
		} else if a.UserID > b.UserID {
			return 1
		}
		return 0
	})
	return result
}
