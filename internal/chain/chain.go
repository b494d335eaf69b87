// Package chain keeps a process registered in the OS clipboard-viewer chain.
//
// The chain is a singly-linked list of observers that spans processes and is
// maintained cooperatively: the OS tells only the head about a change, and
// every member must pass the notification on to its successor. A member that
// leaves announces itself so its predecessor can re-link around it.
//
// The list itself lives behind a Platform (Win32 on Windows, an in-process
// Table elsewhere and in tests). A Link is this process's node in it.
package chain

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"

	"go.klb.dev/guestclip/internal/affinity"
)

// ErrInvalidHandle is returned by a Platform when a message is addressed to a
// handle that is no longer a chain member.
var ErrInvalidHandle = errors.New("chain: invalid handle")

// Receiver gets the notifications addressed to one chain member.
type Receiver interface {
	Notify(m Message) uintptr
}

// Platform is the OS side of the chain.
type Platform interface {
	// Open creates the identity of a new member and routes the
	// notifications addressed to it to r.
	Open(r Receiver) (Handle, error)

	// SetViewer inserts self at the head of the chain and returns the
	// previous head, which becomes self's successor.
	SetViewer(self Handle) (Handle, error)

	// ChangeChain removes remove from the chain, linking its predecessor to next.
	ChangeChain(remove, next Handle) error

	// Send delivers m to the member to and waits for it to be handled.
	Send(to Handle, m Message) error

	// Default performs the platform's default handling of a message that is
	// not a chain notification.
	Default(self Handle, m Message) uintptr
}

// Link is this process's membership in the clipboard-viewer chain.
type Link struct {
	platform Platform
	log      *slog.Logger
	exit     func()

	self   Handle
	joined bool

	mu      sync.Mutex
	next    Handle
	handler func()
	removed bool
}

// Option configures a Link.
type Option func(*Link)

// WithLogger sets the logger used for chain diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(k *Link) { k.log = l }
}

// WithExit replaces the function Remove calls to terminate the process.
func WithExit(exit func()) Option {
	return func(k *Link) { k.exit = exit }
}

// New registers a new member at the head of p's chain.
//
// Registration failures are logged and swallowed. The returned Link is then
// degraded: Joined reports false and no change event is ever raised.
func New(p Platform, opts ...Option) *Link {
	l := &Link{
		platform: p,
		log:      slog.Default(),
		exit:     func() { os.Exit(1) },
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("component", "chain")

	if err := l.join(); err != nil {
		l.log.Error("clipboard viewer registration failed, running without chain membership", "err", err)
	}
	return l
}

func (l *Link) join() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during registration: %v", r)
		}
	}()

	self, err := l.platform.Open(l)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	l.self = self

	next, err := l.platform.SetViewer(self)
	if err != nil {
		return fmt.Errorf("set viewer: %w", err)
	}

	l.mu.Lock()
	l.next = next
	l.mu.Unlock()
	l.joined = true

	l.log.Info("joined clipboard viewer chain", "self", self, "next", next)
	return nil
}

// Self returns this member's handle, or None if registration failed.
func (l *Link) Self() Handle { return l.self }

// Joined reports whether registration succeeded.
func (l *Link) Joined() bool { return l.joined }

// Next returns the current successor.
func (l *Link) Next() Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Subscribe sets the handler raised on every clipboard change. Only one
// handler is kept; a later call replaces it and nil removes it.
func (l *Link) Subscribe(fn func()) {
	l.mu.Lock()
	l.handler = fn
	l.mu.Unlock()
}

// Notify handles one chain notification. It is called by the Platform on the
// thread that owns the chain membership and never panics.
func (l *Link) Notify(m Message) (ret uintptr) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("chain notification handler panicked",
				"kind", m.Kind(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			ret = 0
		}
	}()

	switch m.Kind() {
	case KindDraw:
		next := l.Next()
		if next != None {
			if err := l.platform.Send(next, m); err != nil {
				l.log.Warn("forwarding clipboard change failed", "next", next, "err", err)
			}
		}
		l.raise()
		return 0

	case KindChangeChain:
		removed, successor := m.Removed(), m.Next()
		l.mu.Lock()
		next := l.next
		if removed == next {
			l.next = successor
		}
		l.mu.Unlock()

		if removed == next {
			l.log.Info("successor left the chain, relinking", "removed", removed, "next", successor)
			return 0
		}
		if next == None {
			return 0
		}
		l.log.Debug("chain member left, passing notice on", "removed", removed, "next", next)
		if err := l.platform.Send(next, m); err != nil {
			l.log.Warn("forwarding chain change failed", "next", next, "err", err)
		}
		return 0

	default:
		return l.platform.Default(l.self, m)
	}
}

// raise runs the subscribed handler on its own clipboard-affine thread.
// Handlers are started in notification order but not serialized.
func (l *Link) raise() {
	l.mu.Lock()
	fn := l.handler
	l.mu.Unlock()
	if fn == nil {
		return
	}
	affinity.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("clipboard change handler panicked", "panic", r)
			}
		}()
		fn()
	})
}

// Remove unlinks this member, routing its predecessor straight to the
// current successor, and then terminates the process. Only the first call
// has any effect.
func (l *Link) Remove() {
	l.mu.Lock()
	if l.removed {
		l.mu.Unlock()
		return
	}
	l.removed = true
	l.handler = nil
	next := l.next
	l.mu.Unlock()

	if l.joined {
		l.log.Info("leaving clipboard viewer chain", "self", l.self, "next", next)
		if err := l.platform.ChangeChain(l.self, next); err != nil {
			l.log.Error("leaving clipboard viewer chain failed", "err", err)
		}
	}
	l.exit()
}
