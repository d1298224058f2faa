package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aura-vibe/queue-sync/internal/hub"
	"github.com/aura-vibe/queue-sync/pkg/logger"
)

// Options bound what a single socket may cost the server.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingPeriod   time.Duration
	ReadLimit    int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongTimeout {
		o.PingPeriod = o.PongTimeout * 9 / 10
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	return o
}

// Client is one participant socket. It implements hub.Conn.
type Client struct {
	id     string
	userID string
	code   string
	conn   *websocket.Conn
	opts   Options

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(id, userID, code string, conn *websocket.Conn, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		id:     id,
		userID: userID,
		code:   code,
		conn:   conn,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send enqueues a frame without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return hub.ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return hub.ErrSendBufferFull
	}
}

// Close stops accepting frames. WritePump flushes what is queued and then
// closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump hands every frame to handle until the socket fails or ctx ends.
func (c *Client) ReadPump(ctx context.Context, handle func(ctx context.Context, data []byte)) {
	c.conn.SetReadLimit(c.opts.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("session", c.code),
					logger.String("conn", c.id))
			}
			return
		}
		handle(ctx, data)
	}
}

// WritePump writes queued frames, one per websocket message, and pings the
// peer every PingPeriod.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("websocket write failed",
					logger.ErrorField(err),
					logger.String("session", c.code),
					logger.String("conn", c.id))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
