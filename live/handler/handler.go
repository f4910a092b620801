// Package handler terminates websocket connections and routes decoded frames
// onto the hub's event stream. It owns transport concerns only: upgrade,
// read/write pumps, authentication gating and error surfacing. Everything
// semantic lives in the live package.
package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agape-platform/realtime/auth"
	"github.com/agape-platform/realtime/internal"
	"github.com/agape-platform/realtime/live"
	"github.com/agape-platform/realtime/pubsub"
)

const maxMessageSize = 64 * 1024

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

type LiveHandler struct {
	hub     *live.Hub
	decoder *auth.Decoder

	upgrader websocket.Upgrader
}

func NewLiveHandler(hub *live.Hub, decoder *auth.Decoder) *LiveHandler {
	return &LiveHandler{
		hub:     hub,
		decoder: decoder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the credential inside the authenticate frame is the trust
			// boundary, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := live.NewConn(ws)
	h.hub.AddConn(conn)
	go conn.WritePump()
	conn.SetupRead(maxMessageSize)
	defer h.hub.Disconnect(conn)

	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Str("conn", string(conn.ID)).Msg("read error")
			}
			return
		}
		h.hub.Touch(conn.ID)
		h.serveFrame(req.Context(), conn, raw)
	}
}

// serveFrame processes one inbound frame. A handler error never tears the
// socket down; it is pushed to the origin and the loop continues. Panics are
// reported and swallowed for the same reason: one bad frame must not take the
// session with it.
func (h *LiveHandler) serveFrame(ctx context.Context, conn *live.Conn, raw []byte) {
	defer func() {
		if perr := recover(); perr != nil {
			logger.Error().Interface("panic", perr).Str("conn", string(conn.ID)).Msg("panic in event handler")
			internal.GetSentryHubFromContextOrDefault(ctx).RecoverWithContext(ctx, perr)
			conn.Push(live.EvError, live.ErrorPayload{Message: "internal error"})
		}
	}()

	ctx = internal.EventContext(ctx)
	ev, herr := live.ParseInbound(raw)
	if herr != nil {
		conn.Push(live.EvError, live.ErrorPayload{Message: herr.Message(), Kind: string(herr.Kind)})
		return
	}

	if authEv, ok := ev.(*live.AuthenticateEvent); ok {
		h.authenticate(ctx, conn, authEv)
		return
	}
	if conn.UserID() == "" {
		conn.Push(live.EvAuthenticationError, live.ErrorPayload{Message: "not authenticated"})
		return
	}

	herr = h.dispatch(ctx, conn, ev)
	if herr != nil {
		if herr.Kind == internal.KindStore {
			internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(herr.Err)
		}
		internal.DecorateLogger(ctx, logger.Warn()).Err(herr.Err).Str("kind", string(herr.Kind)).Str("event", ev.EventName()).Msg("event rejected")
		conn.Push(live.EvError, live.ErrorPayload{Message: herr.Message(), Kind: string(herr.Kind)})
	}
}

// authenticate handles the one event allowed before the session has an
// identity. Failure keeps the socket open so the client can retry with a
// fresh credential.
func (h *LiveHandler) authenticate(ctx context.Context, conn *live.Conn, ev *live.AuthenticateEvent) {
	identity, err := h.decoder.Decode(ev.Token)
	if err != nil {
		logger.Warn().Err(err).Str("conn", string(conn.ID)).Msg("authentication failed")
		conn.Push(live.EvAuthenticationError, live.ErrorPayload{Message: "invalid credentials"})
		return
	}
	if herr := h.hub.Authenticate(ctx, conn, identity); herr != nil {
		if herr.Kind == internal.KindStore {
			internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(herr.Err)
		}
		conn.Push(live.EvAuthenticationError, live.ErrorPayload{Message: herr.Message()})
	}
}

func (h *LiveHandler) dispatch(ctx context.Context, conn *live.Conn, ev live.Inbound) *internal.HandlerError {
	switch e := ev.(type) {
	case *live.NewMessageEvent:
		return h.hub.HandleNewMessage(ctx, conn, e)
	case *live.JoinMeetingEvent:
		return h.hub.JoinMeeting(ctx, conn, e)
	case *live.LeaveMeetingEvent:
		return h.hub.LeaveMeeting(ctx, conn, e)
	case *live.MeetingMessageEvent:
		return h.hub.MeetingMessage(ctx, conn, e)
	case *live.StartMeetingEvent:
		if e.HostID != conn.UserID() {
			return internal.NewAuthorizationError("cannot start a meeting as another user")
		}
		return h.hub.StartMeeting(ctx, e.MeetingID, e.HostID)
	case *live.EndMeetingEvent:
		if e.HostID != conn.UserID() {
			return internal.NewAuthorizationError("cannot end a meeting as another user")
		}
		return h.hub.EndMeeting(ctx, e.MeetingID, e.HostID, e.RecordingURL)
	case *live.SetStatusEvent:
		return h.hub.HandleSetStatus(ctx, conn, e)
	case *live.TypingEvent:
		h.hub.HandleTyping(ctx, conn, e)
		return nil
	case *live.JoinChatEvent:
		return h.hub.HandleJoinChat(ctx, conn, e)
	case *live.LeaveChatEvent:
		return h.hub.HandleLeaveChat(ctx, conn, e)
	case *live.GetActiveUsersEvent:
		h.hub.HandleGetActiveUsers(ctx, conn)
		return nil
	default:
		return internal.NewValidationError("unhandled event %q", ev.EventName())
	}
}

// HookReceiver feeds REST-originated domain events onto the hub's stream.
// Hook processing has no originating connection, so errors have nowhere to go
// but the logs (and Sentry for store failures).
type HookReceiver struct {
	hub *live.Hub
}

func NewHookReceiver(hub *live.Hub) *HookReceiver {
	return &HookReceiver{hub: hub}
}

func (r *HookReceiver) OnMeetingLifecycle(p *pubsub.HookMeetingLifecycle) {
	ctx := internal.EventContext(context.Background())
	var herr *internal.HandlerError
	switch p.Action {
	case "start":
		herr = r.hub.StartMeeting(ctx, p.MeetingID, p.HostID)
	case "end":
		herr = r.hub.EndMeeting(ctx, p.MeetingID, p.HostID, p.RecordingURL)
	case "cancel":
		herr = r.hub.CancelMeeting(ctx, p.MeetingID, p.HostID)
	default:
		herr = internal.NewValidationError("unknown lifecycle action %q", p.Action)
	}
	r.logHookError("meeting_lifecycle", herr)
}

func (r *HookReceiver) OnMeetingEvent(p *pubsub.HookMeetingEvent) {
	ctx := internal.EventContext(context.Background())
	r.logHookError("meeting_event", r.hub.BroadcastMeetingEvent(ctx, p.MeetingID, p.Event, p.ActorID))
}

func (r *HookReceiver) OnPrayerEvent(p *pubsub.HookPrayerEvent) {
	ctx := internal.EventContext(context.Background())
	r.logHookError("prayer_event", r.hub.BroadcastPrayerEvent(ctx, live.PrayerEvent{
		RequestID: p.RequestID,
		CampID:    p.CampID,
		ActorID:   p.ActorID,
		Event:     p.Event,
		Title:     p.Title,
		Body:      p.Body,
	}))
}

func (r *HookReceiver) OnNotificationsRead(p *pubsub.HookNotificationsRead) {
	ctx := internal.EventContext(context.Background())
	r.logHookError("notifications_read", r.hub.MarkNotificationsRead(ctx, p.UserID))
}

func (r *HookReceiver) logHookError(hook string, herr *internal.HandlerError) {
	if herr == nil {
		return
	}
	if herr.Kind == internal.KindStore {
		sentry.CaptureException(herr.Err)
	}
	logger.Warn().Err(herr.Err).Str("kind", string(herr.Kind)).Str("hook", hook).Msg("hook rejected")
}
