package pubsub

// The channel which has Hook* payloads: domain events originated by the REST
// layer which the realtime hub must fan out to connected clients.
const ChanHooks = "hooksch"

type HookListener interface {
	OnMeetingLifecycle(p *HookMeetingLifecycle)
	OnMeetingEvent(p *HookMeetingEvent)
	OnPrayerEvent(p *HookPrayerEvent)
	OnNotificationsRead(p *HookNotificationsRead)
}

// HookMeetingLifecycle carries a host-driven start/end/cancel performed over
// REST rather than over a socket.
type HookMeetingLifecycle struct {
	MeetingID    string
	HostID       string
	Action       string // "start" | "end" | "cancel"
	RecordingURL string
}

func (h HookMeetingLifecycle) Type() string { return "ml" }

// HookMeetingEvent is an announce-style event about a meeting (created,
// updated, cancelled) which becomes persisted notifications plus a broadcast.
type HookMeetingEvent struct {
	MeetingID string
	ActorID   string
	Event     string
}

func (h HookMeetingEvent) Type() string { return "me" }

type HookPrayerEvent struct {
	RequestID string
	CampID    string // empty = ministry-wide
	ActorID   string
	Event     string
	Title     string
	Body      string
}

func (h HookPrayerEvent) Type() string { return "pe" }

type HookNotificationsRead struct {
	UserID string
}

func (h HookNotificationsRead) Type() string { return "nr" }

type HookSub struct {
	listener Listener
	receiver HookListener
}

func NewHookSub(l Listener, recv HookListener) *HookSub {
	return &HookSub{
		listener: l,
		receiver: recv,
	}
}

func (h *HookSub) Teardown() {
	h.listener.Close()
}

func (h *HookSub) onMessage(p Payload) {
	switch p.Type() {
	case HookMeetingLifecycle{}.Type():
		h.receiver.OnMeetingLifecycle(p.(*HookMeetingLifecycle))
	case HookMeetingEvent{}.Type():
		h.receiver.OnMeetingEvent(p.(*HookMeetingEvent))
	case HookPrayerEvent{}.Type():
		h.receiver.OnPrayerEvent(p.(*HookPrayerEvent))
	case HookNotificationsRead{}.Type():
		h.receiver.OnNotificationsRead(p.(*HookNotificationsRead))
	}
}

func (h *HookSub) Listen() error {
	return h.listener.Listen(ChanHooks, h.onMessage)
}
