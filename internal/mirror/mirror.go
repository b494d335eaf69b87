// Package mirror keeps the local clipboard and the host-side peer in step.
//
// A Mirror holds one cached value: the text last read from, or last written
// to, the local clipboard. Both directions compare against it before doing
// anything, which is what stops an update from bouncing between the two
// sides forever: a value written locally on the peer's behalf produces a
// change notification like any other, but by then it is already cached.
package mirror

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/guestclip/internal/affinity"
	"go.klb.dev/guestclip/internal/logging"
)

const (
	// DefaultWriteAttempts is how many times a local write is tried before
	// the update is dropped.
	DefaultWriteAttempts = 5
	// DefaultRetryDelay is the pause between write attempts.
	DefaultRetryDelay = 100 * time.Millisecond
)

// Clipboard is the local clipboard as the Mirror needs it.
type Clipboard interface {
	// ReadText returns "" when the clipboard holds no text.
	ReadText() (string, error)
	WriteText(text string) error
	Clear() error
}

// Chain is the source of local change events.
type Chain interface {
	// Subscribe sets the single handler raised on every local change.
	Subscribe(fn func())
	// Remove leaves the chain and terminates the process.
	Remove()
}

// Channel carries updates to the host-side peer.
type Channel interface {
	SetClipboard(text string) error
	WipeClipboard() error
}

// Stats is a snapshot of a Mirror's activity.
type Stats struct {
	Connected     bool
	Failed        bool
	Pushed        uint64 // local changes sent to the peer
	Applied       uint64 // peer updates written locally
	WriteFailures uint64 // peer updates dropped after every attempt failed
}

// Mirror synchronises the local clipboard with a Channel.
//
// The cached value is guarded by a mutex held only for compare-and-set,
// never across clipboard or channel I/O.
type Mirror struct {
	clipboard Clipboard
	chain     Chain
	log       *slog.Logger
	attempts  int
	delay     time.Duration
	sleep     func(time.Duration)

	mu      sync.Mutex
	cached  string
	channel Channel

	failed   atomic.Bool
	failOnce sync.Once

	pushed        atomic.Uint64
	applied       atomic.Uint64
	writeFailures atomic.Uint64
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) { m.log = l }
}

// WithRetry sets how many times a local write is attempted and the pause
// between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(m *Mirror) {
		if attempts > 0 {
			m.attempts = attempts
		}
		if delay >= 0 {
			m.delay = delay
		}
	}
}

// New returns a Mirror whose cache starts as the current clipboard text.
// Nothing is pushed until HandleConnected binds a channel.
func New(cb Clipboard, ch Chain, opts ...Option) *Mirror {
	m := &Mirror{
		clipboard: cb,
		chain:     ch,
		log:       slog.Default(),
		attempts:  DefaultWriteAttempts,
		delay:     DefaultRetryDelay,
		sleep:     time.Sleep,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "mirror")

	affinity.Run(func() {
		text, err := cb.ReadText()
		if err != nil {
			m.log.Warn("initial clipboard read failed", "err", err)
			return
		}
		m.cached = text
	})
	return m
}

// Cached returns the value the Mirror believes the local clipboard holds.
func (m *Mirror) Cached() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached
}

// Stats returns a snapshot of the Mirror's activity.
func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	connected := m.channel != nil
	m.mu.Unlock()
	return Stats{
		Connected:     connected,
		Failed:        m.failed.Load(),
		Pushed:        m.pushed.Load(),
		Applied:       m.applied.Load(),
		WriteFailures: m.writeFailures.Load(),
	}
}

// HandleConnected binds ch and starts pushing local changes to it.
func (m *Mirror) HandleConnected(ch Channel) {
	defer m.recoverPanic("connected")
	if m.failed.Load() {
		return
	}
	m.mu.Lock()
	m.channel = ch
	m.mu.Unlock()

	m.log.Info("peer connected, watching local clipboard")
	m.chain.Subscribe(m.Sync)
}

// HandleFailure leaves the clipboard chain and terminates the process. The
// channel is the Mirror's only reason to exist. Only the first call acts.
func (m *Mirror) HandleFailure(reason string) {
	m.failOnce.Do(func() {
		defer m.recoverPanic("failure")
		m.failed.Store(true)
		m.log.Error("peer channel failed, leaving clipboard chain", "reason", reason)
		m.chain.Remove()
	})
}

// Sync pushes the local clipboard to the peer if it differs from the cache.
// It runs on every local change event. Failures are logged and not retried:
// the next change supersedes a missed push.
func (m *Mirror) Sync() {
	defer m.recoverPanic("sync")
	if m.failed.Load() {
		return
	}

	text, err := m.clipboard.ReadText()
	if err != nil {
		m.log.Warn("clipboard read failed", "err", err)
		return
	}

	m.mu.Lock()
	ch := m.channel
	if ch == nil || text == m.cached {
		m.mu.Unlock()
		return
	}
	m.cached = text
	m.mu.Unlock()

	if text == "" {
		err = ch.WipeClipboard()
	} else {
		err = ch.SetClipboard(text)
	}
	if err != nil {
		m.log.Warn("pushing clipboard to peer failed", "err", err)
		return
	}
	m.pushed.Add(1)
	m.log.Debug("local clipboard pushed to peer", logging.TextAttrs(text)...)
}

// HandleSetClipboard applies a value sent by the peer to the local
// clipboard, blocking until the write has succeeded or been given up.
// An empty value clears the clipboard.
func (m *Mirror) HandleSetClipboard(text string) {
	defer m.recoverPanic("set clipboard")
	if m.failed.Load() {
		return
	}

	m.mu.Lock()
	if text == m.cached {
		m.mu.Unlock()
		return
	}
	// Cache first: the write below raises a local change event, and Sync
	// must see this value already in place.
	m.cached = text
	m.mu.Unlock()

	affinity.Run(func() {
		defer m.recoverPanic("clipboard write")
		m.apply(text)
	})
}

func (m *Mirror) apply(text string) {
	if text == "" {
		if err := m.clipboard.Clear(); err != nil {
			m.log.Warn("clearing clipboard failed", "err", err)
			return
		}
		m.applied.Add(1)
		m.log.Debug("clipboard cleared by peer")
		return
	}

	var err error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if m.failed.Load() {
			return
		}
		if err = m.clipboard.WriteText(text); err == nil {
			m.applied.Add(1)
			m.log.Debug("clipboard set by peer", append(logging.TextAttrs(text), "attempt", attempt)...)
			return
		}
		if attempt < m.attempts {
			m.sleep(m.delay)
		}
	}
	m.writeFailures.Add(1)
	m.log.Warn("giving up on clipboard write", "attempts", m.attempts, "err", err)
}

func (m *Mirror) recoverPanic(where string) {
	if r := recover(); r != nil {
		m.log.Error("clipboard handler panicked",
			"handler", where,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
