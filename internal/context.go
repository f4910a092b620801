package internal

import (
	"context"

	"github.com/rs/zerolog"
)

type ctx string

var (
	ctxData ctx = "agape_data"
)

// logging metadata for a single socket event or hook call
type data struct {
	userID     string
	connID     string
	event      string
	numTargets int
}

// prepare a context so it can carry realtime event info
func EventContext(ctx context.Context) context.Context {
	d := &data{
		numTargets: -1,
	}
	return context.WithValue(ctx, ctxData, d)
}

// add the user ID to this event context. Need to have called EventContext first.
func SetEventContextUserID(ctx context.Context, userID string) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.userID = userID
}

func SetEventContextInfo(ctx context.Context, connID, event string, numTargets int) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.connID = connID
	da.event = event
	da.numTargets = numTargets
}

func DecorateLogger(ctx context.Context, l *zerolog.Event) *zerolog.Event {
	d := ctx.Value(ctxData)
	if d == nil {
		return l
	}
	da := d.(*data)
	if da.userID != "" {
		l = l.Str("u", da.userID)
	}
	if da.connID != "" {
		l = l.Str("c", da.connID)
	}
	if da.event != "" {
		l = l.Str("e", da.event)
	}
	if da.numTargets >= 0 {
		l = l.Int("n", da.numTargets)
	}
	return l
}
