package live

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// how long a connection may go without any inbound frame (including pongs
// refreshing reads) before the map considers it dead and closes it.
const connTTL = 30 * time.Minute

// ConnMap stores every live connection keyed by connection ID. Entries carry
// a TTL refreshed on inbound activity; a connection that goes silent past the
// TTL is closed, which unwinds through the transport's normal disconnect
// path, so the registry and tracker are cleaned up on the event stream.
type ConnMap struct {
	cache *ttlcache.Cache[string, *Conn]
}

func NewConnMap() *ConnMap {
	cache := ttlcache.New[string, *Conn](
		ttlcache.WithTTL[string, *Conn](connTTL),
		ttlcache.WithDisableTouchOnHit[string, *Conn](),
	)
	cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Conn]) {
		if reason == ttlcache.EvictionReasonExpired {
			item.Value().Close()
		}
	})
	go cache.Start()
	return &ConnMap{cache: cache}
}

func (m *ConnMap) Add(conn *Conn) {
	m.cache.Set(string(conn.ID), conn, ttlcache.DefaultTTL)
}

// Lookup returns the connection with this ID. Returns nil if none exists.
func (m *ConnMap) Lookup(connID ConnID) *Conn {
	item := m.cache.Get(string(connID))
	if item == nil {
		return nil
	}
	return item.Value()
}

// Touch refreshes the connection's TTL. Called on every inbound frame.
func (m *ConnMap) Touch(connID ConnID) {
	m.cache.Touch(string(connID))
}

func (m *ConnMap) Remove(connID ConnID) {
	m.cache.Delete(string(connID))
}

func (m *ConnMap) Len() int {
	return m.cache.Len()
}

func (m *ConnMap) Teardown() {
	m.cache.Stop()
}
