package live

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agape-platform/realtime/internal"
)

// Inbound event names.
const (
	EvAuthenticate   = "authenticate"
	EvNewMessage     = "new_message"
	EvJoinMeeting    = "join_meeting"
	EvLeaveMeeting   = "leave_meeting"
	EvMeetingMessage = "meeting_message"
	EvStartMeeting   = "start_meeting"
	EvEndMeeting     = "end_meeting"
	EvSetStatus      = "set_status"
	EvTyping         = "typing"
	EvJoinChat       = "join_chat"
	EvLeaveChat      = "leave_chat"
	EvGetActiveUsers = "get_active_users"
)

// Outbound event names.
const (
	EvAuthenticated       = "authenticated"
	EvAuthenticationError = "authentication_error"
	EvUserStatusChange    = "user_status_change"
	EvMessageConfirmed    = "message_confirmed"
	EvNewMeetingMessage   = "new_meeting_message"
	EvMeetingJoined       = "meeting_joined"
	EvUserJoinedMeeting   = "user_joined_meeting"
	EvUserLeftMeeting     = "user_left_meeting"
	EvMeetingStarted      = "meeting_started"
	EvMeetingEnded        = "meeting_ended"
	EvUserTyping          = "user_typing"
	EvChatJoined          = "chat_joined"
	EvNotification        = "notification"
	EvMeetingNotification = "meeting_notification"
	EvPrayerNotification  = "prayer_notification"
	EvNotificationsRead   = "notifications_read"
	EvActiveUsers         = "active_users"
	EvError               = "error"
)

// Scope types for messages and typing indicators.
const (
	ScopeMinistry = "ministry"
	ScopeCamp     = "camp"
	ScopeUser     = "user"
	ScopeMeeting  = "meeting"
)

// Inbound is the closed set of client-originated events. Each variant is a
// plain struct; routing happens on the concrete type, never on raw strings
// past the parse boundary.
type Inbound interface {
	EventName() string
}

type AuthenticateEvent struct {
	Token string
}

func (AuthenticateEvent) EventName() string { return EvAuthenticate }

type NewMessageEvent struct {
	Content        string
	SenderID       string
	ScopeType      string
	ScopeID        string
	MessageType    string
	Attachments    []string
	IsAnnouncement bool
	// client-supplied, used only to confirm delivery back to the sender's
	// own sessions; never persisted.
	CorrelationID string
}

func (NewMessageEvent) EventName() string { return EvNewMessage }

type JoinMeetingEvent struct {
	MeetingID string
	UserID    string
}

func (JoinMeetingEvent) EventName() string { return EvJoinMeeting }

type LeaveMeetingEvent struct {
	MeetingID string
	UserID    string
}

func (LeaveMeetingEvent) EventName() string { return EvLeaveMeeting }

type MeetingMessageEvent struct {
	MeetingID string
	UserID    string
	Content   string
}

func (MeetingMessageEvent) EventName() string { return EvMeetingMessage }

type StartMeetingEvent struct {
	MeetingID string
	HostID    string
}

func (StartMeetingEvent) EventName() string { return EvStartMeeting }

type EndMeetingEvent struct {
	MeetingID    string
	HostID       string
	RecordingURL string
}

func (EndMeetingEvent) EventName() string { return EvEndMeeting }

type SetStatusEvent struct {
	UserID string
	Status Status
}

func (SetStatusEvent) EventName() string { return EvSetStatus }

type TypingEvent struct {
	UserID    string
	ScopeType string
	ScopeID   string
}

func (TypingEvent) EventName() string { return EvTyping }

type JoinChatEvent struct {
	UserID    string
	PartnerID string
}

func (JoinChatEvent) EventName() string { return EvJoinChat }

type LeaveChatEvent struct {
	UserID    string
	PartnerID string
}

func (LeaveChatEvent) EventName() string { return EvLeaveChat }

type GetActiveUsersEvent struct{}

func (GetActiveUsersEvent) EventName() string { return EvGetActiveUsers }

// ParseInbound decodes one wire frame into its typed variant. Malformed JSON
// or an unknown event name is a transport-level problem for the origin only.
func ParseInbound(raw []byte) (Inbound, *internal.HandlerError) {
	if !gjson.ValidBytes(raw) {
		return nil, internal.NewTransportError("malformed frame")
	}
	frame := gjson.ParseBytes(raw)
	event := frame.Get("event").Str
	data := frame.Get("data")
	switch event {
	case EvAuthenticate:
		return &AuthenticateEvent{Token: data.Get("token").Str}, nil
	case EvNewMessage:
		ev := &NewMessageEvent{
			Content:        data.Get("content").Str,
			SenderID:       data.Get("sender_id").Str,
			ScopeType:      data.Get("scope_type").Str,
			ScopeID:        data.Get("scope_id").Str,
			MessageType:    data.Get("message_type").Str,
			IsAnnouncement: data.Get("is_announcement").Bool(),
			CorrelationID:  data.Get("correlation_id").Str,
		}
		if ev.MessageType == "" {
			ev.MessageType = "text"
		}
		for _, a := range data.Get("attachments").Array() {
			ev.Attachments = append(ev.Attachments, a.Str)
		}
		return ev, nil
	case EvJoinMeeting:
		return &JoinMeetingEvent{
			MeetingID: data.Get("meeting_id").Str,
			UserID:    data.Get("user_id").Str,
		}, nil
	case EvLeaveMeeting:
		return &LeaveMeetingEvent{
			MeetingID: data.Get("meeting_id").Str,
			UserID:    data.Get("user_id").Str,
		}, nil
	case EvMeetingMessage:
		return &MeetingMessageEvent{
			MeetingID: data.Get("meeting_id").Str,
			UserID:    data.Get("user_id").Str,
			Content:   data.Get("content").Str,
		}, nil
	case EvStartMeeting:
		return &StartMeetingEvent{
			MeetingID: data.Get("meeting_id").Str,
			HostID:    data.Get("host_id").Str,
		}, nil
	case EvEndMeeting:
		return &EndMeetingEvent{
			MeetingID:    data.Get("meeting_id").Str,
			HostID:       data.Get("host_id").Str,
			RecordingURL: data.Get("recording_url").Str,
		}, nil
	case EvSetStatus:
		return &SetStatusEvent{
			UserID: data.Get("user_id").Str,
			Status: Status(data.Get("status").Str),
		}, nil
	case EvTyping:
		return &TypingEvent{
			UserID:    data.Get("user_id").Str,
			ScopeType: data.Get("scope_type").Str,
			ScopeID:   data.Get("scope_id").Str,
		}, nil
	case EvJoinChat:
		return &JoinChatEvent{
			UserID:    data.Get("user_id").Str,
			PartnerID: data.Get("partner_id").Str,
		}, nil
	case EvLeaveChat:
		return &LeaveChatEvent{
			UserID:    data.Get("user_id").Str,
			PartnerID: data.Get("partner_id").Str,
		}, nil
	case EvGetActiveUsers:
		return &GetActiveUsersEvent{}, nil
	case "":
		return nil, internal.NewValidationError("frame has no event name")
	default:
		return nil, internal.NewValidationError("unknown event %q", event)
	}
}

// Outbound payloads.

type AuthenticatedPayload struct {
	UserID              string `json:"user_id"`
	Status              Status `json:"status"`
	UnreadNotifications int    `json:"unread_notifications"`
}

type StatusChangePayload struct {
	UserID string `json:"user_id"`
	Status Status `json:"status"`
}

type SenderInfo struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	ProfileImage string `json:"profile_image,omitempty"`
}

type MessagePayload struct {
	MessageID      int64      `json:"message_id"`
	Content        string     `json:"content"`
	SenderID       string     `json:"sender_id"`
	ScopeType      string     `json:"scope_type"`
	ScopeID        string     `json:"scope_id,omitempty"`
	MessageType    string     `json:"message_type"`
	Attachments    []string   `json:"attachments,omitempty"`
	IsAnnouncement bool       `json:"is_announcement"`
	CreatedAt      time.Time  `json:"created_at"`
	Sender         SenderInfo `json:"sender"`
}

type ConfirmationPayload struct {
	CorrelationID string `json:"correlation_id"`
	MessageID     int64  `json:"message_id"`
	SenderID      string `json:"sender_id"`
	ScopeID       string `json:"scope_id,omitempty"`
}

type MeetingMessagePayload struct {
	MessageID    int64     `json:"message_id"`
	MeetingID    string    `json:"meeting_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	ProfileImage string    `json:"profile_image,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

type MeetingJoinedPayload struct {
	MeetingID string   `json:"meeting_id"`
	Status    string   `json:"status"`
	Attendees []string `json:"attendees"`
}

type MeetingRosterPayload struct {
	MeetingID    string    `json:"meeting_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name,omitempty"`
	ProfileImage string    `json:"profile_image,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type MeetingStartedPayload struct {
	MeetingID string    `json:"meeting_id"`
	Title     string    `json:"title"`
	HostID    string    `json:"host_id"`
	CampID    string    `json:"camp_id,omitempty"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

type MeetingEndedPayload struct {
	MeetingID    string    `json:"meeting_id"`
	Status       string    `json:"status"`
	EndedAt      time.Time `json:"ended_at"`
	RecordingURL string    `json:"recording_url,omitempty"`
}

type TypingPayload struct {
	UserID    string    `json:"user_id"`
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatJoinedPayload struct {
	Room      string `json:"room"`
	UserID    string `json:"user_id"`
	PartnerID string `json:"partner_id"`
}

type NotificationPayload struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	RelatedType string    `json:"related_type,omitempty"`
	RelatedID   string    `json:"related_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ScopeNotificationPayload struct {
	Event       string    `json:"event"`
	RelatedType string    `json:"related_type"`
	RelatedID   string    `json:"related_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

type NotificationsReadPayload struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

type ActiveUsersPayload struct {
	Users []ActiveUser `json:"users"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Frame marshals one outbound envelope. Marshal failures are programming
// errors (payloads are our own structs), so callers get nil and an assert.
func Frame(event string, data interface{}) []byte {
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	internal.Assert("outbound payload is marshallable", err == nil)
	return b
}

// withCorrelation decorates a pre-built frame with the client's correlation
// id. Only the sender's own sessions see the decorated copy; everyone else
// gets the original frame.
func withCorrelation(frame []byte, correlationID string) []byte {
	decorated, err := sjson.SetBytes(frame, "data.correlation_id", correlationID)
	if err != nil {
		return frame
	}
	return decorated
}
