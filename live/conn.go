package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// outbound buffer per connection; a client that can't drain this fast
	// enough is dropped rather than allowed to stall the event stream.
	sendBufferSize = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type ConnID string

// Envelope is the wire frame in both directions: an event name plus its data.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Conn is a single live client connection. Many Conns can belong to one user
// (multi-device). The websocket may be nil in tests; Push still queues frames.
type Conn struct {
	ID       ConnID
	JoinedAt time.Time

	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	userID string
	closed bool
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ID:       ConnID(uuid.NewString()),
		JoinedAt: time.Now().UTC(),
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
	}
}

// UserID returns the authenticated owner, or "" before authentication.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// Push marshals and queues one event frame for this connection.
func (c *Conn) Push(event string, data interface{}) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("Conn.Push: failed to marshal frame")
		return
	}
	c.PushRaw(frame)
}

// PushRaw queues a pre-marshalled frame. If the outbound buffer is full the
// connection is closed: the read pump then unwinds through the normal
// disconnect path, so a slow consumer can never block the event stream.
func (c *Conn) PushRaw(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	select {
	case c.send <- frame:
	default:
		logger.Warn().Str("conn", string(c.ID)).Str("user", c.UserID()).Msg("outbound buffer full, dropping connection")
		c.Close()
	}
}

// Outbound exposes the queued frames; consumed by the write pump and by tests.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if c.ws != nil {
		c.ws.Close()
	}
}

// ReadFrame blocks for the next inbound frame, refreshing the read deadline.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, raw, err := c.ws.ReadMessage()
	return raw, err
}

// SetupRead configures read limits and the pong handler. Call once before the
// read loop.
func (c *Conn) SetupRead(maxMessageSize int64) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// WritePump drains the outbound buffer onto the websocket and keeps the
// connection alive with pings. Runs in its own goroutine per connection;
// returns when the connection dies or Close is called.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
