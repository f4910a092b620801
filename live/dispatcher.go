package live

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agape-platform/realtime/auth"
	"github.com/agape-platform/realtime/internal"
	"github.com/agape-platform/realtime/state"
)

// Store is the persistence surface the realtime layer consumes. The REST
// layer owns the primary copies; the hub only reads membership/display data
// and appends events, so a failure here must abort fan-out, never half of it.
type Store interface {
	User(userID string) (*state.User, error)
	CampMemberIDs(campID string) ([]string, error)
	AllActiveUserIDs() ([]string, error)
	InsertMessage(m *state.Message) (int64, error)
	InsertMeetingMessage(m *state.MeetingMessage) (int64, error)
	InsertNotifications(notifs []state.Notification) error
	MarkNotificationsRead(userID string) (int64, error)
	UnreadNotificationCount(userID string) (int, error)
	Meeting(meetingID string) (*state.Meeting, error)
	UpdateMeetingStatus(meetingID, status string, recordingURL *string) error
	AddAttendee(meetingID, userID string) (bool, error)
	RemoveAttendee(meetingID, userID string) error
	AttendeeIDs(meetingID string) ([]string, error)
}

// Hub is the single choke point for all outbound realtime events. Every
// handler runs under one mutex: incoming socket events and hook-originated
// domain events are processed as one logical stream, so no two handlers ever
// race on the registry, tracker or meeting state. Store I/O happens inside
// the critical section, which is what makes broadcast order match
// persistence-completion order.
type Hub struct {
	mu sync.Mutex

	registry *Registry
	tracker  *RoomTracker
	conns    *ConnMap
	store    Store
	meetings *MeetingCoordinator
	notifier *Notifier

	activeConns prometheus.Gauge
	fanoutTotal *prometheus.CounterVec
}

func NewHub(store Store, addPrometheusMetrics bool) *Hub {
	h := &Hub{
		registry: NewRegistry(),
		tracker:  NewRoomTracker(),
		conns:    NewConnMap(),
		store:    store,
	}
	h.meetings = &MeetingCoordinator{hub: h, store: store}
	h.notifier = &Notifier{hub: h, store: store}
	if addPrometheusMetrics {
		h.activeConns = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agape_realtime",
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Number of live websocket connections",
		})
		h.fanoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agape_realtime",
			Subsystem: "hub",
			Name:      "fanout_frames_total",
			Help:      "Number of frames fanned out, by event",
		}, []string{"event"})
		prometheus.MustRegister(h.activeConns, h.fanoutTotal)
	}
	return h
}

func (h *Hub) Registry() *Registry   { return h.registry }
func (h *Hub) Tracker() *RoomTracker { return h.tracker }

func (h *Hub) Teardown() {
	h.conns.Teardown()
	if h.activeConns != nil {
		prometheus.Unregister(h.activeConns)
		prometheus.Unregister(h.fanoutTotal)
	}
}

// AddConn makes a freshly-upgraded connection addressable. It is not yet
// authenticated and belongs to no rooms.
func (h *Hub) AddConn(conn *Conn) {
	h.conns.Add(conn)
	if h.activeConns != nil {
		h.activeConns.Inc()
	}
}

// Touch refreshes the connection's liveness TTL on inbound activity.
func (h *Hub) Touch(connID ConnID) {
	h.conns.Touch(connID)
}

// Authenticate records the session, auto-joins scope rooms and announces the
// user if this is their first live connection. Role and camp come from the
// decoded credential, display fields from the store.
func (h *Hub) Authenticate(ctx context.Context, conn *Conn, identity *auth.Identity) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()

	user, err := h.store.User(identity.UserID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if user == nil {
		return internal.NewTransportError("user not found")
	}
	if !user.IsActive {
		return internal.NewTransportError("account is deactivated")
	}

	// all store reads happen before any registration side effect: a failure
	// here must leave the connection exactly as unauthenticated as it was,
	// or a retry would find the registry already populated and never
	// announce the user as online.
	unread, err := h.store.UnreadNotificationCount(identity.UserID)
	if err != nil {
		return internal.NewStoreError(err)
	}

	conn.SetUserID(identity.UserID)
	first := h.registry.Register(conn.ID, UserInfo{
		UserID:       identity.UserID,
		Name:         user.DisplayName(),
		Role:         identity.Role,
		ProfileImage: user.ProfileImage.String,
	})
	for _, room := range ScopeRooms(identity.UserID, identity.CampID) {
		h.tracker.Join(conn.ID, room)
	}

	if first {
		h.fanout(EvUserStatusChange, Frame(EvUserStatusChange, StatusChangePayload{
			UserID: identity.UserID,
			Status: StatusOnline,
		}), []string{RoomMinistry}, conn.ID)
	}
	conn.Push(EvAuthenticated, AuthenticatedPayload{
		UserID:              identity.UserID,
		Status:              StatusOnline,
		UnreadNotifications: unread,
	})
	internal.SetEventContextUserID(ctx, identity.UserID)
	logger.Info().Str("user", identity.UserID).Str("conn", string(conn.ID)).Msg("authenticated")
	return nil
}

// Disconnect tears down everything the connection touched. It runs on the
// same stream as event handlers, before any further event for this
// connection could be processed. Safe to call for connections that never
// authenticated.
func (h *Hub) Disconnect(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.tracker.LeaveAll(conn.ID)
	userID, wentOffline := h.registry.Deregister(conn.ID)
	h.conns.Remove(conn.ID)
	if h.activeConns != nil {
		h.activeConns.Dec()
	}
	conn.Close()
	if userID == "" {
		// disconnect raced authentication failure; nothing to announce
		logger.Debug().Str("conn", string(conn.ID)).Msg("disconnect for unregistered conn")
		return
	}
	if wentOffline {
		h.fanout(EvUserStatusChange, Frame(EvUserStatusChange, StatusChangePayload{
			UserID: userID,
			Status: StatusOffline,
		}), []string{RoomMinistry})
	}
	logger.Info().Str("user", userID).Str("conn", string(conn.ID)).Msg("disconnected")
}

// HandleNewMessage is the chat send path: validate, persist (the store mints
// the durable id), resolve rooms, fan out once per connection, then confirm
// to the sender's own sessions if a correlation id was supplied.
func (h *Hub) HandleNewMessage(ctx context.Context, conn *Conn, ev *NewMessageEvent) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Content == "" || ev.SenderID == "" || ev.ScopeType == "" {
		return internal.NewValidationError("content, sender_id and scope_type are required")
	}
	switch ev.ScopeType {
	case ScopeMinistry:
	case ScopeCamp, ScopeUser:
		if ev.ScopeID == "" {
			return internal.NewValidationError("scope_id is required for %s messages", ev.ScopeType)
		}
	default:
		return internal.NewValidationError("unknown scope_type %q", ev.ScopeType)
	}
	if ev.SenderID != conn.UserID() {
		return internal.NewAuthorizationError("sender_id does not match the authenticated user")
	}

	sender, err := h.store.User(ev.SenderID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if sender == nil {
		return internal.NewValidationError("unknown sender")
	}

	msg := &state.Message{
		Content:        ev.Content,
		SenderID:       ev.SenderID,
		ScopeType:      ev.ScopeType,
		ScopeID:        ev.ScopeID,
		MessageType:    ev.MessageType,
		IsAnnouncement: ev.IsAnnouncement,
		Attachments:    ev.Attachments,
	}
	messageID, err := h.store.InsertMessage(msg)
	if err != nil {
		// nothing was broadcast; the event simply did not happen
		return internal.NewStoreError(err)
	}

	var rooms []string
	switch ev.ScopeType {
	case ScopeMinistry:
		rooms = []string{RoomMinistry}
	case ScopeCamp:
		rooms = []string{CampRoom(ev.ScopeID)}
	case ScopeUser:
		recipient, err := h.store.User(ev.ScopeID)
		if err != nil {
			return internal.NewStoreError(err)
		}
		if recipient == nil {
			// persisted but unresolvable: degrade to a no-op broadcast and
			// tell only the origin.
			return internal.NewValidationError("unknown recipient %q", ev.ScopeID)
		}
		// pairwise room for the open conversation view, both personal rooms
		// so badges update regardless of view and the sender's other devices
		// see their own message. Delivery is deduped per connection below.
		rooms = []string{
			PairwiseRoom(ev.SenderID, ev.ScopeID),
			UserRoom(ev.ScopeID),
			UserRoom(ev.SenderID),
		}
	}

	frame := Frame(EvNewMessage, MessagePayload{
		MessageID:      messageID,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		ScopeType:      msg.ScopeType,
		ScopeID:        msg.ScopeID,
		MessageType:    msg.MessageType,
		Attachments:    msg.Attachments,
		IsAnnouncement: msg.IsAnnouncement,
		CreatedAt:      msg.CreatedAt,
		Sender: SenderInfo{
			ID:           sender.UserID,
			FirstName:    sender.FirstName,
			LastName:     sender.LastName,
			ProfileImage: sender.ProfileImage.String,
		},
	})
	senderFrame := frame
	if ev.CorrelationID != "" {
		senderFrame = withCorrelation(frame, ev.CorrelationID)
	}

	// at most one frame per connection per logical event, even when the
	// resolved rooms overlap (self-directed messages, shared rooms).
	seen := make(map[ConnID]struct{})
	delivered := 0
	for _, room := range rooms {
		for _, connID := range h.tracker.ConnsForRoom(room, nil) {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			target := h.conns.Lookup(connID)
			if target == nil {
				continue
			}
			if target.UserID() == ev.SenderID {
				target.PushRaw(senderFrame)
			} else {
				target.PushRaw(frame)
			}
			delivered++
		}
	}
	h.countFanout(EvNewMessage, delivered)

	if ev.CorrelationID != "" {
		h.fanout(EvMessageConfirmed, Frame(EvMessageConfirmed, ConfirmationPayload{
			CorrelationID: ev.CorrelationID,
			MessageID:     messageID,
			SenderID:      ev.SenderID,
			ScopeID:       ev.ScopeID,
		}), []string{UserRoom(ev.SenderID)})
	}
	internal.SetEventContextInfo(ctx, string(conn.ID), EvNewMessage, delivered)
	return nil
}

// HandleTyping fans a typing indicator out to the conversation's room,
// excluding the typist's own connection. Never persisted; bad input is
// silently dropped, matching its fire-and-forget contract.
func (h *Hub) HandleTyping(ctx context.Context, conn *Conn, ev *TypingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.UserID == "" || ev.ScopeType == "" || ev.ScopeID == "" {
		return
	}
	var room string
	switch ev.ScopeType {
	case ScopeMeeting:
		room = MeetingRoom(ev.ScopeID)
	case ScopeCamp:
		room = CampRoom(ev.ScopeID)
	case ScopeUser:
		room = PairwiseRoom(ev.UserID, ev.ScopeID)
	default:
		return
	}
	h.fanout(EvUserTyping, Frame(EvUserTyping, TypingPayload{
		UserID:    ev.UserID,
		ScopeType: ev.ScopeType,
		ScopeID:   ev.ScopeID,
		Timestamp: time.Now().UTC(),
	}), []string{room}, conn.ID)
}

// HandleSetStatus applies an explicit status override. Status changes for
// users with no live session are dropped, not resurrected.
func (h *Hub) HandleSetStatus(ctx context.Context, conn *Conn, ev *SetStatusEvent) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.UserID == "" || ev.Status == "" {
		return internal.NewValidationError("user_id and status are required")
	}
	if !ValidStatus(ev.Status) {
		return internal.NewValidationError("unknown status %q", ev.Status)
	}
	if ev.UserID != conn.UserID() {
		return internal.NewAuthorizationError("cannot set status for another user")
	}
	if !h.registry.SetStatus(ev.UserID, ev.Status) {
		return nil
	}
	h.fanout(EvUserStatusChange, Frame(EvUserStatusChange, StatusChangePayload{
		UserID: ev.UserID,
		Status: ev.Status,
	}), []string{RoomMinistry})
	return nil
}

func (h *Hub) HandleGetActiveUsers(ctx context.Context, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Push(EvActiveUsers, ActiveUsersPayload{Users: h.registry.ListActive()})
}

func (h *Hub) HandleJoinChat(ctx context.Context, conn *Conn, ev *JoinChatEvent) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.UserID == "" || ev.PartnerID == "" {
		return internal.NewValidationError("user_id and partner_id are required")
	}
	room := PairwiseRoom(ev.UserID, ev.PartnerID)
	h.tracker.Join(conn.ID, room)
	conn.Push(EvChatJoined, ChatJoinedPayload{
		Room:      room,
		UserID:    ev.UserID,
		PartnerID: ev.PartnerID,
	})
	return nil
}

func (h *Hub) HandleLeaveChat(ctx context.Context, conn *Conn, ev *LeaveChatEvent) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.UserID == "" || ev.PartnerID == "" {
		return internal.NewValidationError("user_id and partner_id are required")
	}
	h.tracker.Leave(conn.ID, PairwiseRoom(ev.UserID, ev.PartnerID))
	return nil
}

// Meeting operations delegate to the coordinator on the same stream.

func (h *Hub) JoinMeeting(ctx context.Context, conn *Conn, ev *JoinMeetingEvent) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meetings.join(ctx, conn, ev.MeetingID, ev.UserID)
}

func (h *Hub) LeaveMeeting(ctx context.Context, conn *Conn, ev *LeaveMeetingEvent) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meetings.leave(ctx, conn, ev.MeetingID, ev.UserID)
}

func (h *Hub) StartMeeting(ctx context.Context, meetingID, hostID string) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meetings.start(ctx, meetingID, hostID)
}

func (h *Hub) EndMeeting(ctx context.Context, meetingID, hostID, recordingURL string) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meetings.end(ctx, meetingID, hostID, recordingURL)
}

func (h *Hub) CancelMeeting(ctx context.Context, meetingID, actorID string) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meetings.cancel(ctx, meetingID, actorID)
}

func (h *Hub) MeetingMessage(ctx context.Context, conn *Conn, ev *MeetingMessageEvent) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meetings.message(ctx, conn, ev)
}

// Notification fan-out, driven by the REST layer's hooks.

func (h *Hub) BroadcastMeetingEvent(ctx context.Context, meetingID, eventType, actorID string) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notifier.broadcastMeetingEvent(ctx, meetingID, eventType, actorID)
}

func (h *Hub) BroadcastPrayerEvent(ctx context.Context, p PrayerEvent) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notifier.broadcastPrayerEvent(ctx, p)
}

func (h *Hub) MarkNotificationsRead(ctx context.Context, userID string) *internal.HandlerError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notifier.markAllRead(ctx, userID)
}

// fanout delivers one frame to every connection in the given rooms, at most
// once per connection, minus any excluded connections. Returns the number of
// connections reached.
func (h *Hub) fanout(event string, frame []byte, rooms []string, exclude ...ConnID) int {
	excluded := make(map[ConnID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	seen := make(map[ConnID]struct{})
	delivered := 0
	for _, room := range rooms {
		for _, connID := range h.tracker.ConnsForRoom(room, nil) {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			if _, skip := excluded[connID]; skip {
				continue
			}
			conn := h.conns.Lookup(connID)
			if conn == nil {
				continue
			}
			conn.PushRaw(frame)
			delivered++
		}
	}
	h.countFanout(event, delivered)
	return delivered
}

func (h *Hub) countFanout(event string, n int) {
	if h.fanoutTotal != nil && n > 0 {
		h.fanoutTotal.WithLabelValues(event).Add(float64(n))
	}
}
