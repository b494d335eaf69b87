package mirror

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.klb.dev/guestclip/internal/chain"
	"go.klb.dev/guestclip/internal/clip"
)

type fakeChain struct {
	mu      sync.Mutex
	handler func()
	removes int
}

func (c *fakeChain) Subscribe(fn func()) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *fakeChain) Remove() {
	c.mu.Lock()
	c.removes++
	c.mu.Unlock()
}

func (c *fakeChain) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

type sentMsg struct {
	wipe bool
	text string
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
	got  chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{got: make(chan struct{}, 16)}
}

func (c *fakeChannel) SetClipboard(text string) error {
	return c.record(sentMsg{text: text})
}

func (c *fakeChannel) WipeClipboard() error {
	return c.record(sentMsg{wipe: true})
}

func (c *fakeChannel) record(m sentMsg) error {
	c.mu.Lock()
	c.sent = append(c.sent, m)
	err := c.err
	c.mu.Unlock()
	c.got <- struct{}{}
	return err
}

func (c *fakeChannel) messages() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...)
}

// noSleep records retry pauses instead of sleeping.
type noSleep struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (s *noSleep) sleep(d time.Duration) {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	s.mu.Unlock()
}

func connected(t *testing.T, initial string) (*Mirror, *clip.Memory, *fakeChain, *fakeChannel) {
	t.Helper()
	cb := clip.NewMemory(initial)
	ch := &fakeChain{}
	m := New(cb, ch)
	m.sleep = (&noSleep{}).sleep
	peer := newFakeChannel()
	m.HandleConnected(peer)
	return m, cb, ch, peer
}

func TestNewCachesCurrentClipboard(t *testing.T) {
	m := New(clip.NewMemory("already here"), &fakeChain{})
	if got := m.Cached(); got != "already here" {
		t.Fatalf("Cached() = %q, want %q", got, "already here")
	}
}

func TestNoPushBeforeConnect(t *testing.T) {
	cb := clip.NewMemory("")
	ch := &fakeChain{}
	m := New(cb, ch)

	cb.Copy("early")
	m.Sync()

	if ch.subscribed() {
		t.Fatal("subscribed to change events before connect")
	}
	if got := m.Cached(); got != "" {
		t.Fatalf("cache moved to %q before connect", got)
	}
}

func TestConnectSubscribes(t *testing.T) {
	_, _, ch, _ := connected(t, "")
	if !ch.subscribed() {
		t.Fatal("HandleConnected did not subscribe to change events")
	}
}

func TestSyncPushesChange(t *testing.T) {
	m, cb, _, peer := connected(t, "old")

	cb.Copy("new")
	m.Sync()

	got := peer.messages()
	if len(got) != 1 || got[0] != (sentMsg{text: "new"}) {
		t.Fatalf("sent %+v, want one SET_CLIPBOARD(new)", got)
	}
	if m.Cached() != "new" {
		t.Fatalf("Cached() = %q, want %q", m.Cached(), "new")
	}
	if s := m.Stats(); s.Pushed != 1 || !s.Connected {
		t.Fatalf("Stats() = %+v", s)
	}
}

func TestSyncDedup(t *testing.T) {
	m, cb, _, peer := connected(t, "")

	cb.Copy("same")
	m.Sync()
	m.Sync()

	if got := peer.messages(); len(got) != 1 {
		t.Fatalf("two notifications without a change sent %d pushes, want 1", len(got))
	}
}

func TestEmptyClipboardSendsWipe(t *testing.T) {
	m, cb, _, peer := connected(t, "something")

	if err := cb.Clear(); err != nil {
		t.Fatal(err)
	}
	m.Sync()

	got := peer.messages()
	if len(got) != 1 || !got[0].wipe {
		t.Fatalf("sent %+v, want one WIPE_CLIPBOARD", got)
	}
}

func TestPushFailureIsNotRetried(t *testing.T) {
	m, cb, _, peer := connected(t, "")
	peer.err = errors.New("pipe broken")

	cb.Copy("lost")
	m.Sync()
	m.Sync()

	if got := peer.messages(); len(got) != 1 {
		t.Fatalf("sent %d times, want 1", len(got))
	}
	if s := m.Stats(); s.Pushed != 0 {
		t.Fatalf("Pushed = %d after a failed send", s.Pushed)
	}
}

func TestInboundSetDoesNotEcho(t *testing.T) {
	m, cb, _, peer := connected(t, "")

	m.HandleSetClipboard("from host")
	if got, _ := cb.ReadText(); got != "from host" {
		t.Fatalf("clipboard = %q, want %q", got, "from host")
	}

	// The write shows up locally as a change like any other.
	m.Sync()

	if got := peer.messages(); len(got) != 0 {
		t.Fatalf("inbound value echoed back: %+v", got)
	}
}

func TestInboundSetIsIdempotent(t *testing.T) {
	m, cb, _, _ := connected(t, "")

	m.HandleSetClipboard("twice")
	m.HandleSetClipboard("twice")

	if _, writes, _ := cb.Stats(); writes != 1 {
		t.Fatalf("write attempts = %d, want 1", writes)
	}
	if s := m.Stats(); s.Applied != 1 {
		t.Fatalf("Applied = %d, want 1", s.Applied)
	}
}

func TestInboundEmptyClears(t *testing.T) {
	m, cb, _, _ := connected(t, "keep me?")

	cb.Hold(-1)
	m.HandleSetClipboard("")

	_, writes, clears := cb.Stats()
	if clears != 1 || writes != 0 {
		t.Fatalf("clears = %d writes = %d, want 1 clear and no writes", clears, writes)
	}
	if got, _ := cb.ReadText(); got != "" {
		t.Fatalf("clipboard = %q after wipe", got)
	}
}

func TestInboundRetriesThenSucceeds(t *testing.T) {
	m, cb, _, _ := connected(t, "")
	cb.Hold(2)

	m.HandleSetClipboard("eventually")

	if _, writes, _ := cb.Stats(); writes != 3 {
		t.Fatalf("write attempts = %d, want 3", writes)
	}
	if got, _ := cb.ReadText(); got != "eventually" {
		t.Fatalf("clipboard = %q", got)
	}
}

func TestInboundRetryBound(t *testing.T) {
	cb := clip.NewMemory("")
	m := New(cb, &fakeChain{})
	pauses := &noSleep{}
	m.sleep = pauses.sleep
	cb.Hold(-1)

	// Must return to the caller, not panic or block.
	m.HandleSetClipboard("never lands")

	if _, writes, _ := cb.Stats(); writes != DefaultWriteAttempts {
		t.Fatalf("write attempts = %d, want %d", writes, DefaultWriteAttempts)
	}
	if len(pauses.pauses) != DefaultWriteAttempts-1 {
		t.Fatalf("paused %d times, want %d", len(pauses.pauses), DefaultWriteAttempts-1)
	}
	var total time.Duration
	for _, p := range pauses.pauses {
		if p != DefaultRetryDelay {
			t.Errorf("pause = %v, want %v", p, DefaultRetryDelay)
		}
		total += p
	}
	if total > 500*time.Millisecond {
		t.Errorf("total wait %v exceeds 500ms", total)
	}
	if s := m.Stats(); s.WriteFailures != 1 {
		t.Fatalf("WriteFailures = %d, want 1", s.WriteFailures)
	}
	// The cache keeps the requested value; a later update resynchronises.
	if got := m.Cached(); got != "never lands" {
		t.Fatalf("Cached() = %q", got)
	}
}

func TestRetryUsesRealDelay(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps")
	}
	cb := clip.NewMemory("")
	m := New(cb, &fakeChain{}, WithRetry(3, 20*time.Millisecond))
	cb.Hold(-1)

	start := time.Now()
	m.HandleSetClipboard("x")
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("3 attempts took %v, want at least 2 pauses of 20ms", elapsed)
	}
}

func TestFailureRemovesOnce(t *testing.T) {
	m, cb, ch, peer := connected(t, "")
	readsBefore, _, _ := cb.Stats()

	m.HandleFailure("pipe closed")
	m.HandleFailure("pipe closed again")

	if ch.removes != 1 {
		t.Fatalf("Remove called %d times, want 1", ch.removes)
	}

	cb.Copy("after failure")
	m.Sync()
	m.HandleSetClipboard("late update")

	reads, writes, clears := cb.Stats()
	if reads != readsBefore || writes != 0 || clears != 0 {
		t.Fatalf("clipboard touched after failure: reads %d->%d writes %d clears %d",
			readsBefore, reads, writes, clears)
	}
	if got := peer.messages(); len(got) != 0 {
		t.Fatalf("pushed after failure: %+v", got)
	}
	if !m.Stats().Failed {
		t.Fatal("Stats().Failed = false")
	}
}

type panickyClipboard struct{ *clip.Memory }

func (panickyClipboard) ReadText() (string, error) { panic("clipboard exploded") }

func TestHandlersRecoverPanics(t *testing.T) {
	cb := panickyClipboard{clip.NewMemory("")}
	m := New(clip.NewMemory(""), &fakeChain{})
	m.clipboard = cb
	m.HandleConnected(newFakeChannel())

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped Sync: %v", r)
		}
	}()
	m.Sync()
}

// TestEndToEndThroughChain wires a Mirror to a real Link on an in-process
// chain fed by the clipboard's own change signal.
func TestEndToEndThroughChain(t *testing.T) {
	cb := clip.NewMemory("")
	tbl := chain.NewTable()
	var exits atomic.Int32
	link := chain.New(tbl, chain.WithExit(func() { exits.Add(1) }))
	go chain.Pump(t.Context(), tbl, cb.Watch())

	m := New(cb, link)
	peer := newFakeChannel()
	m.HandleConnected(peer)

	// Inbound value: written locally, observed, not echoed.
	m.HandleSetClipboard("from host")
	select {
	case <-peer.got:
		t.Fatalf("inbound value echoed: %+v", peer.messages())
	case <-time.After(150 * time.Millisecond):
	}

	// Local copy: pushed.
	cb.Copy("from guest")
	select {
	case <-peer.got:
	case <-time.After(2 * time.Second):
		t.Fatal("local change was not pushed")
	}
	if got := peer.messages(); len(got) != 1 || got[0].text != "from guest" {
		t.Fatalf("sent %+v, want one SET_CLIPBOARD(from guest)", got)
	}

	m.HandleFailure("host went away")
	if exits.Load() != 1 {
		t.Fatalf("exit called %d times, want 1", exits.Load())
	}
	if tbl.Head() != chain.None {
		t.Fatalf("head = %s after removal, want none", tbl.Head())
	}
}
