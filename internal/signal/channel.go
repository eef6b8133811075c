package signal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/hollis-v/beamcast/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// Reconnect attempts before the channel gives up for good.
	maxReconnectTries = 8
)

// Channel is the client end of the signaling connection. It reconnects
// automatically with capped exponential backoff; after a reconnect it
// re-issues the registered intent (start-stream or join-stream), since the
// relay holds no state tied to the old socket.
type Channel struct {
	serverURL string

	mu      sync.Mutex
	conn    *websocket.Conn
	intent  *models.SignalMessage
	pending *models.SignalMessage
	closed  bool

	incoming chan models.SignalMessage
	outgoing chan models.SignalMessage
	done     chan struct{}
}

func NewChannel(serverURL string) *Channel {
	return &Channel{
		serverURL: serverURL,
		incoming:  make(chan models.SignalMessage, 32),
		outgoing:  make(chan models.SignalMessage, 32),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the pump loop. The incoming channel is
// closed once the connection is gone and reconnection has been exhausted.
func (c *Channel) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.setConn(conn)
	go c.run()
	return nil
}

func (c *Channel) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// SetIntent records the role message to replay after every reconnect and
// sends it now.
func (c *Channel) SetIntent(msg models.SignalMessage) {
	c.mu.Lock()
	c.intent = &msg
	c.mu.Unlock()
	c.Send(msg)
}

// Send queues a message for delivery. Messages queued while the channel is
// reconnecting are delivered once it is back up.
func (c *Channel) Send(msg models.SignalMessage) {
	select {
	case c.outgoing <- msg:
	case <-c.done:
	}
}

// Incoming returns the channel of relay-to-client messages.
func (c *Channel) Incoming() <-chan models.SignalMessage {
	return c.incoming
}

// Close shuts the channel down; no reconnection is attempted afterwards.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// run owns the connection across its epochs: pump until failure, reconnect,
// replay intent, repeat.
func (c *Channel) run() {
	defer close(c.incoming)

	for {
		c.pump()

		if c.isClosed() {
			return
		}

		if err := c.reconnect(); err != nil {
			slog.Error("signaling channel lost", "error", err)
			return
		}

		c.mu.Lock()
		intent := c.intent
		c.mu.Unlock()
		if intent != nil {
			c.Send(*intent)
		}
	}
}

// pump runs the read and write loops for the current connection and returns
// once either fails.
func (c *Channel) pump() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writeLoop(conn, stop)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
		}
	}

	close(stop)
	conn.Close()
	<-writeDone
}

func (c *Channel) writeLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// A message that failed mid-write on the previous epoch goes out first.
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(pending); err != nil {
			c.stash(pending)
			return
		}
	}

	for {
		select {
		case msg := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(&msg); err != nil {
				c.stash(&msg)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Channel) stash(msg *models.SignalMessage) {
	c.mu.Lock()
	c.pending = msg
	c.mu.Unlock()
}

func (c *Channel) reconnect() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	return backoff.Retry(func() error {
		if c.isClosed() {
			return backoff.Permanent(fmt.Errorf("channel closed"))
		}
		conn, err := c.dial()
		if err != nil {
			slog.Warn("reconnect attempt failed", "error", err)
			return err
		}
		c.setConn(conn)
		slog.Info("signaling channel reconnected", "url", c.serverURL)
		return nil
	}, backoff.WithMaxRetries(bo, maxReconnectTries))
}
