// Package remote carries clipboard updates between the guest agent and its
// host-side peer over a wire.Conn.
//
// The guest side is a Client: it performs the CONNECT handshake and then
// turns incoming messages into calls on a Handler. The host side is a
// Server. Neither knows anything about the clipboard-viewer chain.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/guestclip/internal/crypto"
	"go.klb.dev/guestclip/internal/logging"
	"go.klb.dev/guestclip/internal/message"
	"go.klb.dev/guestclip/internal/mirror"
	"go.klb.dev/guestclip/internal/wire"
)

const (
	// DefaultWatchdog is how long the host may stay silent before the
	// session is considered dead. The host pings every 15s.
	DefaultWatchdog = 45 * time.Second
	watchdogCheck   = 5 * time.Second
)

// ErrNotConnected is returned by the Client's send methods before the
// handshake has completed.
var ErrNotConnected = errors.New("remote: not connected")

// ErrClosed is returned by the Client's send methods after the session ended.
var ErrClosed = errors.New("remote: session closed")

// Handler receives the events of one session. Calls are made from the
// Client's reader goroutine, one at a time.
type Handler interface {
	HandleConnected(ch mirror.Channel)
	HandleSetClipboard(text string)
	HandleFailure(reason string)
}

// Client is the guest end of a session. It implements mirror.Channel.
type Client struct {
	conn     *wire.Conn
	handler  Handler
	source   string
	secret   string
	watchdog time.Duration
	log      *slog.Logger

	connected atomic.Bool
	closed    atomic.Bool
	lastRecv  atomic.Int64 // UnixNano

	failOnce sync.Once
	reason   string
	done     chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSource sets the identifier the host shows for this guest.
func WithSource(source string) ClientOption {
	return func(c *Client) { c.source = source }
}

// WithSecret sets the shared secret sent in the handshake.
func WithSecret(secret string) ClientOption {
	return func(c *Client) { c.secret = secret }
}

// WithWatchdog sets how long the host may stay silent. Zero disables it.
func WithWatchdog(d time.Duration) ClientOption {
	return func(c *Client) { c.watchdog = d }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient wraps conn. When key is non-nil every message is sealed.
func NewClient(conn net.Conn, key *crypto.Key, h Handler, opts ...ClientOption) *Client {
	c := &Client{
		conn:     wire.New(conn, key),
		handler:  h,
		watchdog: DefaultWatchdog,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "remote", "peer", conn.RemoteAddr())
	return c
}

// Connected reports whether the handshake has completed and the session is
// still up.
func (c *Client) Connected() bool { return c.connected.Load() && !c.closed.Load() }

// SetClipboard implements mirror.Channel.
func (c *Client) SetClipboard(text string) error {
	return c.sendClipboard(text)
}

// WipeClipboard implements mirror.Channel.
func (c *Client) WipeClipboard() error {
	return c.sendClipboard("")
}

func (c *Client) sendClipboard(text string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if err := c.conn.WriteMsg(message.Clipboard(c.source, text)); err != nil {
		c.fail(fmt.Sprintf("write failed: %v", err))
		return fmt.Errorf("remote send: %w", err)
	}
	return nil
}

// Run performs the handshake and serves the session until it ends, which
// always happens through Handler.HandleFailure. Cancelling ctx sends
// DISCONNECT and ends the session. Run returns the reason the session ended.
func (c *Client) Run(ctx context.Context) error {
	c.lastRecv.Store(time.Now().UnixNano())

	if err := c.conn.WriteMsg(message.Connect(c.source, c.secret)); err != nil {
		c.fail(fmt.Sprintf("handshake send failed: %v", err))
		return c.err()
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMsg(&message.Message{Type: message.TypeDisconnect, Source: c.source})
			c.fail("agent shutting down")
		case <-c.done:
		}
	}()
	if c.watchdog > 0 {
		go c.watch()
	}

	c.read()
	return c.err()
}

func (c *Client) read() {
	for {
		msg, err := c.conn.ReadMsg()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				c.fail("connection closed")
			} else {
				c.fail(fmt.Sprintf("read failed: %v", err))
			}
			return
		}
		c.lastRecv.Store(time.Now().UnixNano())
		if c.dispatch(msg) {
			return
		}
	}
}

// dispatch handles one message and reports whether the session is over.
func (c *Client) dispatch(msg *message.Message) bool {
	switch msg.Type {
	case message.TypeConnected:
		if c.connected.Swap(true) {
			c.log.Warn("duplicate CONNECTED ignored")
			return false
		}
		c.log.Info("connected to host", "host", msg.Source)
		c.handler.HandleConnected(c)

	case message.TypeSetClipboard, message.TypeWipeClipboard:
		if !c.connected.Load() {
			c.log.Warn("clipboard update before handshake ignored", "type", msg.Type)
			return false
		}
		text := msg.Text
		if msg.Type == message.TypeWipeClipboard {
			text = ""
		}
		c.log.Debug("clipboard update from host", logging.TextAttrs(text)...)
		c.handler.HandleSetClipboard(text)

	case message.TypePing:
		if err := c.conn.WriteMsg(&message.Message{Type: message.TypePong, Source: c.source}); err != nil {
			c.fail(fmt.Sprintf("pong failed: %v", err))
			return true
		}

	case message.TypePong:
		// lastRecv already updated

	case message.TypeDisconnect:
		reason := "host disconnected"
		if msg.Error != "" {
			reason += ": " + msg.Error
		}
		c.fail(reason)
		return true

	case message.TypeError:
		c.fail("host error: " + msg.Error)
		return true

	default:
		c.log.Warn("unexpected message type", "type", msg.Type)
	}
	return false
}

func (c *Client) watch() {
	ticker := time.NewTicker(min(watchdogCheck, c.watchdog))
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			age := time.Since(time.Unix(0, c.lastRecv.Load()))
			if age > c.watchdog {
				c.fail(fmt.Sprintf("host silent for %s", age.Round(time.Millisecond)))
				return
			}
		}
	}
}

// fail ends the session. Only the first call reaches the Handler.
func (c *Client) fail(reason string) {
	c.failOnce.Do(func() {
		c.reason = reason
		c.closed.Store(true)
		close(c.done)
		_ = c.conn.Close()
		c.log.Warn("session ended", "reason", reason)
		c.handler.HandleFailure(reason)
	})
}

func (c *Client) err() error {
	<-c.done
	return errors.New(c.reason)
}
