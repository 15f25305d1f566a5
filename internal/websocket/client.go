package websocket

import (
	"context"
	"sync"
	"time"

	"groupchat/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tune connection pumps.
type Options struct {
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Client is a websocket session. The read pump feeds the router, the write
// pump owns every write to the socket.
type Client struct {
	id       string
	userID   int64
	username string
	conn     *websocket.Conn
	send     chan []byte
	opts     Options
	log      *zap.Logger

	done        chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string
	expiresAt   time.Time
}

func newClient(conn *websocket.Conn, userID int64, username string, expiresAt time.Time, opts Options, log *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:        id,
		userID:    userID,
		username:  username,
		conn:      conn,
		send:      make(chan []byte, opts.SendBuffer),
		opts:      opts,
		log:       log.With(zap.String("conn_id", id), zap.Int64("user_id", userID), zap.String("username", username)),
		done:      make(chan struct{}),
		expiresAt: expiresAt,
	}
}

func (c *Client) ID() string    { return c.id }
func (c *Client) UserID() int64 { return c.userID }

func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		// slow consumer: drop the session, it recovers through sync
		_ = c.Close(websocket.CloseTryAgainLater, "slow consumer")
		return ErrSendBufferFull
	}
}

func (c *Client) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
	return nil
}

// Done is closed once the session starts closing.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readPump(h *Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.Detach(c)
		_ = c.Close(models.CloseNormal, "")
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		h.router.HandleFrame(ctx, c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var expired <-chan time.Time
	if !c.expiresAt.IsZero() {
		timer := time.NewTimer(time.Until(c.expiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.log.Debug("write error", zap.Error(err))
				_ = c.Close(websocket.CloseGoingAway, "write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}

		case <-expired:
			_ = c.Close(models.CloseAuthInvalid, "token expired")

		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason),
				time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}

// flush writes whatever is already queued so a replaced session still sees
// messages sent before it was closed.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(msg []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}
