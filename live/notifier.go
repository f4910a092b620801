package live

import (
	"context"
	"fmt"
	"time"

	"github.com/agape-platform/realtime/internal"
	"github.com/agape-platform/realtime/state"
)

// PrayerEvent describes a prayer request change announced by the REST layer.
type PrayerEvent struct {
	RequestID string
	CampID    string
	ActorID   string
	Event     string
	Title     string
	Body      string
}

// Notifier turns domain events from the REST layer into durable notification
// rows plus live pushes. Methods are unexported and run under the hub mutex,
// so a notification burst and its recipients' connect/disconnect churn are
// serialized on the same stream.
type Notifier struct {
	hub   *Hub
	store Store
}

// broadcastMeetingEvent notifies everyone in the meeting's scope except the
// actor. Rows are written first in one transaction; if that fails nothing is
// pushed, so clients never see a notification that is gone on refresh.
func (n *Notifier) broadcastMeetingEvent(ctx context.Context, meetingID, eventType, actorID string) *internal.HandlerError {
	m, err := n.store.Meeting(meetingID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	if m == nil {
		return internal.NewValidationError("unknown meeting %q", meetingID)
	}

	var recipients []string
	scopeRoom := RoomMinistry
	if m.CampID.Valid {
		scopeRoom = CampRoom(m.CampID.String)
		recipients, err = n.store.CampMemberIDs(m.CampID.String)
	} else {
		recipients, err = n.store.AllActiveUserIDs()
	}
	if err != nil {
		return internal.NewStoreError(err)
	}

	title, body := meetingNotificationText(eventType, m.Title)
	notifs := make([]state.Notification, 0, len(recipients))
	for _, userID := range recipients {
		if userID == actorID {
			continue
		}
		notifs = append(notifs, state.Notification{
			RecipientID: userID,
			Title:       title,
			Body:        body,
			RelatedType: "meeting",
			RelatedID:   meetingID,
		})
	}
	if err := n.store.InsertNotifications(notifs); err != nil {
		return internal.NewStoreError(err)
	}

	now := time.Now().UTC()
	n.hub.fanout(EvMeetingNotification, Frame(EvMeetingNotification, ScopeNotificationPayload{
		Event:       eventType,
		RelatedType: "meeting",
		RelatedID:   meetingID,
		Title:       title,
		Body:        body,
		CreatedAt:   now,
	}), []string{scopeRoom})
	n.pushPersonal(EvNotification, NotificationPayload{
		Title:       title,
		Body:        body,
		RelatedType: "meeting",
		RelatedID:   meetingID,
		CreatedAt:   now,
	}, notifs)
	return nil
}

// broadcastPrayerEvent mirrors the meeting path for prayer requests. A camp
// id scopes the audience to that camp; otherwise the whole ministry hears it.
func (n *Notifier) broadcastPrayerEvent(ctx context.Context, p PrayerEvent) *internal.HandlerError {
	if p.RequestID == "" || p.Event == "" {
		return internal.NewValidationError("request_id and event are required")
	}
	var recipients []string
	var err error
	scopeRoom := RoomMinistry
	if p.CampID != "" {
		scopeRoom = CampRoom(p.CampID)
		recipients, err = n.store.CampMemberIDs(p.CampID)
	} else {
		recipients, err = n.store.AllActiveUserIDs()
	}
	if err != nil {
		return internal.NewStoreError(err)
	}

	title := p.Title
	if title == "" {
		title = "Prayer request"
	}
	notifs := make([]state.Notification, 0, len(recipients))
	for _, userID := range recipients {
		if userID == p.ActorID {
			continue
		}
		notifs = append(notifs, state.Notification{
			RecipientID: userID,
			Title:       title,
			Body:        p.Body,
			RelatedType: "prayer_request",
			RelatedID:   p.RequestID,
		})
	}
	if err := n.store.InsertNotifications(notifs); err != nil {
		return internal.NewStoreError(err)
	}

	now := time.Now().UTC()
	n.hub.fanout(EvPrayerNotification, Frame(EvPrayerNotification, ScopeNotificationPayload{
		Event:       p.Event,
		RelatedType: "prayer_request",
		RelatedID:   p.RequestID,
		Title:       title,
		Body:        p.Body,
		CreatedAt:   now,
	}), []string{scopeRoom})
	n.pushPersonal(EvNotification, NotificationPayload{
		Title:       title,
		Body:        p.Body,
		RelatedType: "prayer_request",
		RelatedID:   p.RequestID,
		CreatedAt:   now,
	}, notifs)
	return nil
}

// markAllRead persists the read flip and pushes a zeroed badge to every one
// of the user's sessions.
func (n *Notifier) markAllRead(ctx context.Context, userID string) *internal.HandlerError {
	if userID == "" {
		return internal.NewValidationError("user_id is required")
	}
	changed, err := n.store.MarkNotificationsRead(userID)
	if err != nil {
		return internal.NewStoreError(err)
	}
	n.hub.fanout(EvNotificationsRead, Frame(EvNotificationsRead, NotificationsReadPayload{
		UserID: userID,
		Count:  0,
	}), []string{UserRoom(userID)})
	logger.Debug().Str("user", userID).Int64("changed", changed).Msg("notifications marked read")
	return nil
}

// pushPersonal delivers a personal copy to each recipient's own room. Offline
// recipients have no room members, which is fine: the durable row is their
// copy.
func (n *Notifier) pushPersonal(event string, payload NotificationPayload, notifs []state.Notification) {
	frame := Frame(event, payload)
	for _, notif := range notifs {
		n.hub.fanout(event, frame, []string{UserRoom(notif.RecipientID)})
	}
}

func meetingNotificationText(eventType, title string) (string, string) {
	switch eventType {
	case "created":
		return "New meeting scheduled", fmt.Sprintf("%q has been scheduled", title)
	case "updated":
		return "Meeting updated", fmt.Sprintf("%q has been updated", title)
	case "cancelled":
		return "Meeting cancelled", fmt.Sprintf("%q has been cancelled", title)
	case "reminder":
		return "Meeting reminder", fmt.Sprintf("%q is starting soon", title)
	default:
		return "Meeting update", fmt.Sprintf("%q: %s", title, eventType)
	}
}
