package remote

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.klb.dev/guestclip/internal/crypto"
	"go.klb.dev/guestclip/internal/logging"
	"go.klb.dev/guestclip/internal/message"
	"go.klb.dev/guestclip/internal/wire"
)

const (
	DefaultPingInterval = 15 * time.Second
	DefaultPongDeadline = 10 * time.Second
	DefaultAuthTimeout  = 10 * time.Second
)

// GuestHandler receives events from the guests connected to a Server.
type GuestHandler interface {
	GuestConnected(id, source string)
	// GuestClipboard reports a guest's clipboard; "" means it was emptied.
	GuestClipboard(id, text string)
	GuestDisconnected(id string, err error)
}

// Server is the host end. It accepts guests, checks their secret, keeps
// them alive with pings and relays clipboard updates both ways.
type Server struct {
	secret  string
	key     *crypto.Key
	handler GuestHandler
	source  string
	log     *slog.Logger

	pingInterval time.Duration
	pongDeadline time.Duration
	authTimeout  time.Duration

	mu     sync.RWMutex
	guests map[*guest]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithServerSource sets the name the Server reports in CONNECTED.
func WithServerSource(source string) ServerOption {
	return func(s *Server) { s.source = source }
}

// WithKeepalive sets the ping interval and how long a guest has to answer.
func WithKeepalive(interval, deadline time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = interval
		s.pongDeadline = deadline
	}
}

// WithAuthTimeout sets how long a guest has to send CONNECT.
func WithAuthTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.authTimeout = d }
}

// NewServer returns a Server that accepts guests presenting secret. The
// secret also keys message sealing; an empty secret disables both.
func NewServer(secret string, h GuestHandler, opts ...ServerOption) (*Server, error) {
	key, err := crypto.DeriveKey(secret)
	if err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	s := &Server{
		secret:       secret,
		key:          key,
		handler:      h,
		log:          slog.Default(),
		pingInterval: DefaultPingInterval,
		pongDeadline: DefaultPongDeadline,
		authTimeout:  DefaultAuthTimeout,
		guests:       make(map[*guest]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "host")
	return s, nil
}

// Serve accepts guests on ln until ctx is cancelled or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.disconnectAll("host shutting down")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.ServeConn(conn)
	}
}

// Guests returns how many guests have completed the handshake.
func (s *Server) Guests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.guests)
}

// Push sends text to every connected guest, as WIPE_CLIPBOARD when empty,
// and returns how many guests it was queued for.
func (s *Server) Push(text string) int {
	msg := message.Clipboard(s.source, text)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for g := range s.guests {
		g.send(msg)
	}
	return len(s.guests)
}

func (s *Server) disconnectAll(reason string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for g := range s.guests {
		g.send(&message.Message{Type: message.TypeDisconnect, Source: s.source, Error: reason})
	}
}

type guest struct {
	id     string
	conn   *wire.Conn
	sendCh chan *message.Message
	pongCh chan struct{}
	done   chan struct{}
}

func (g *guest) send(msg *message.Message) {
	select {
	case g.sendCh <- msg:
	case <-g.done:
	default:
		slog.Warn("guest send queue full, dropping", "guest", g.id)
	}
}

// ServeConn runs one guest session on conn until it ends.
func (s *Server) ServeConn(conn net.Conn) {
	g := &guest{
		id:     conn.RemoteAddr().String(),
		conn:   wire.New(conn, s.key),
		sendCh: make(chan *message.Message, 64),
		pongCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	defer g.conn.Close()
	log := s.log.With("guest", g.id)

	source, err := s.authenticate(g)
	if err != nil {
		log.Warn("handshake failed", "err", err)
		return
	}
	if err := g.conn.WriteMsg(&message.Message{Type: message.TypeConnected, Source: s.source}); err != nil {
		log.Warn("handshake reply failed", "err", err)
		return
	}
	log.Info("guest connected", "source", source)

	s.mu.Lock()
	s.guests[g] = struct{}{}
	s.mu.Unlock()
	s.handler.GuestConnected(g.id, source)

	var endErr error
	defer func() {
		close(g.done)
		s.mu.Lock()
		delete(s.guests, g)
		s.mu.Unlock()
		s.handler.GuestDisconnected(g.id, endErr)
	}()

	// Writer
	go func() {
		for {
			select {
			case <-g.done:
				return
			case msg := <-g.sendCh:
				if err := g.conn.WriteMsg(msg); err != nil {
					log.Error("write failed", "err", err)
					_ = g.conn.Close()
					return
				}
			}
		}
	}()

	// Ping loop
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
			}
			g.send(&message.Message{Type: message.TypePing, Source: s.source})
			select {
			case <-g.done:
				return
			case <-g.pongCh:
			case <-time.After(s.pongDeadline):
				log.Warn("pong timeout, closing")
				_ = g.conn.Close()
				return
			}
		}
	}()

	// Reader
	for {
		msg, err := g.conn.ReadMsg()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				endErr = err
			}
			return
		}
		switch msg.Type {
		case message.TypeSetClipboard, message.TypeWipeClipboard:
			text := msg.Text
			if msg.Type == message.TypeWipeClipboard {
				text = ""
			}
			log.Debug("clipboard from guest", logging.TextAttrs(text)...)
			s.handler.GuestClipboard(g.id, text)

		case message.TypePong:
			select {
			case g.pongCh <- struct{}{}:
			default:
			}

		case message.TypePing:
			g.send(&message.Message{Type: message.TypePong, Source: s.source})

		case message.TypeDisconnect:
			log.Info("guest disconnected", "reason", msg.Error)
			return

		default:
			log.Warn("unexpected message type", "type", msg.Type)
		}
	}
}

func (s *Server) authenticate(g *guest) (string, error) {
	g.conn.SetReadDeadline(s.authTimeout)
	msg, err := g.conn.ReadMsg()
	if err != nil {
		return "", fmt.Errorf("read CONNECT: %w", err)
	}
	g.conn.SetReadDeadline(0)

	if msg.Type != message.TypeConnect {
		s.reject(g, "expected CONNECT")
		return "", fmt.Errorf("got %s before CONNECT", msg.Type)
	}
	secret, err := msg.Secret()
	if err != nil || subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		s.reject(g, "auth_failed")
		return "", errors.New("secret mismatch")
	}
	return msg.Source, nil
}

func (s *Server) reject(g *guest, reason string) {
	_ = g.conn.WriteMsg(&message.Message{Type: message.TypeError, Source: s.source, Error: reason})
}
