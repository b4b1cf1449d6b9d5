package signaling

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"callrelay/internal/protocol"
)

// CloseSuperseded is sent to a connection replaced by a newer one for the same identity.
const CloseSuperseded = 4000

var (
	ErrSendQueueFull = errors.New("signaling: send queue full")
	ErrClientClosed  = errors.New("signaling: connection closed")
)

var errMessageTooLarge = errors.New("message too large")

// ClientConfig bounds one connection's resources.
type ClientConfig struct {
	SendQueue         int
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond int
}

// Client is one websocket connection bound to a verified identity. It satisfies
// presence.Conn: Send never blocks, and a single write pump owns the socket writes.
type Client struct {
	id       string
	identity string
	ws       *websocket.Conn
	cfg      ClientConfig

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	// keepalive runs off the write pump after each successful ping.
	keepalive func()

	log *slog.Logger
}

func newClient(ws *websocket.Conn, identity string, cfg ClientConfig, log *slog.Logger) *Client {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 50
	}
	id := uuid.NewString()
	return &Client{
		id:       id,
		identity: identity,
		ws:       ws,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendQueue),
		done:     make(chan struct{}),
		log:      log.With("conn_id", id, "identity", identity),
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) Identity() string { return c.identity }

// Send enqueues m for the write pump. A full queue means the peer is not keeping up
// and is reported as an error rather than waited on.
func (c *Client) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith asks the write pump to flush queued frames, send a close frame with code
// and reason, and close the socket. Only the first call has an effect.
func (c *Client) CloseWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				c.log.Debug("write failed", "err", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if c.keepalive != nil {
				go c.keepalive()
			}
		case <-c.done:
			c.flush()
			writeClose(c.ws, c.closeCode, c.closeReason, c.cfg.WriteTimeout)
			return
		}
	}
}

// flush writes whatever is still queued without waiting for more.
func (c *Client) flush() {
	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(b []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// readLoop delivers text frames to handle, in order, until the socket fails or a frame
// breaks the connection rules. It closes the client before returning.
func (c *Client) readLoop(handle func([]byte)) {
	defer c.Close()

	limiter := rate.NewLimiter(rate.Limit(c.cfg.MessagesPerSecond), max(c.cfg.MessagesPerSecond, 1))
	readWait := 2 * c.cfg.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		msgType, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", "err", err)
			}
			return
		}
		if !limiter.Allow() {
			_ = c.CloseWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			_ = c.CloseWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		msg, err := readLimited(r, c.cfg.MaxMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				_ = c.CloseWith(websocket.CloseMessageTooBig, "message too large")
				return
			}
			return
		}
		// Any frame proves liveness.
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
		handle(msg)
	}
}

func writeClose(ws *websocket.Conn, code int, reason string, wait time.Duration) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wait))
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errMessageTooLarge
	}
	return b, nil
}
