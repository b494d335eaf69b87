package chain

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type sent struct {
	to  Handle
	msg Message
}

// recorder wraps a Table and records every Send.
type recorder struct {
	*Table

	mu    sync.Mutex
	sends []sent
	moves []Message
	defs  int
}

func newRecorder() *recorder { return &recorder{Table: NewTable()} }

func (r *recorder) Send(to Handle, m Message) error {
	r.mu.Lock()
	r.sends = append(r.sends, sent{to: to, msg: m})
	r.mu.Unlock()
	return r.Table.Send(to, m)
}

func (r *recorder) ChangeChain(remove, next Handle) error {
	r.mu.Lock()
	r.moves = append(r.moves, ChangeChainMessage(remove, next))
	r.mu.Unlock()
	return r.Table.ChangeChain(remove, next)
}

func (r *recorder) Default(self Handle, m Message) uintptr {
	r.mu.Lock()
	r.defs++
	r.mu.Unlock()
	return 42
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.sends = nil
	r.mu.Unlock()
}

func (r *recorder) forwarded() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sends...)
}

// build registers n links so that links[0] is the head and links[i]'s
// successor is links[i+1].
func build(t *testing.T, p Platform, n int) []*Link {
	t.Helper()
	links := make([]*Link, n)
	for i := n - 1; i >= 0; i-- {
		links[i] = New(p, WithExit(func() {}))
		if !links[i].Joined() {
			t.Fatalf("link %d failed to join", i)
		}
	}
	return links
}

func TestNewLinksAtHead(t *testing.T) {
	p := newRecorder()
	links := build(t, p, 3)

	if got := p.Head(); got != links[0].Self() {
		t.Fatalf("head = %s, want %s", got, links[0].Self())
	}
	for i := 0; i < 2; i++ {
		if got := links[i].Next(); got != links[i+1].Self() {
			t.Errorf("links[%d].Next() = %s, want %s", i, got, links[i+1].Self())
		}
	}
	if got := links[2].Next(); got != None {
		t.Errorf("tail successor = %s, want none", got)
	}
}

func TestDrawIsForwardedAndRaised(t *testing.T) {
	p := newRecorder()
	links := build(t, p, 3)

	var wg sync.WaitGroup
	wg.Add(3)
	var counts [3]atomic.Int32
	for i, l := range links {
		l.Subscribe(func() {
			counts[i].Add(1)
			wg.Done()
		})
	}

	if err := p.Draw(); err != nil {
		t.Fatal(err)
	}
	waitGroup(t, &wg)

	for i := range counts {
		if got := counts[i].Load(); got != 1 {
			t.Errorf("links[%d] raised %d events, want 1", i, got)
		}
	}
	sends := p.forwarded()
	if len(sends) != 2 {
		t.Fatalf("got %d forwards, want 2", len(sends))
	}
	for i, s := range sends {
		if s.to != links[i+1].Self() || s.msg.Kind() != KindDraw {
			t.Errorf("forward %d = %+v, want draw to %s", i, s, links[i+1].Self())
		}
	}
}

func TestAdjacentRemovalRelinks(t *testing.T) {
	p := newRecorder()
	links := build(t, p, 3)
	a, b, c := links[0], links[1], links[2]
	p.reset()

	// b leaves; the OS tells the head, which is b's direct predecessor.
	if err := p.Table.ChangeChain(b.Self(), c.Self()); err != nil {
		t.Fatal(err)
	}

	if got := a.Next(); got != c.Self() {
		t.Fatalf("a.Next() = %s, want %s", got, c.Self())
	}
	if sends := p.forwarded(); len(sends) != 0 {
		t.Fatalf("notice forwarded past the predecessor: %+v", sends)
	}
}

func TestNonAdjacentRemovalIsPassedOn(t *testing.T) {
	p := newRecorder()
	links := build(t, p, 4)
	a, b, c, d := links[0], links[1], links[2], links[3]
	p.reset()

	if err := p.Table.ChangeChain(c.Self(), d.Self()); err != nil {
		t.Fatal(err)
	}

	if got := a.Next(); got != b.Self() {
		t.Errorf("a.Next() = %s, want %s (unchanged)", got, b.Self())
	}
	if got := b.Next(); got != d.Self() {
		t.Errorf("b.Next() = %s, want %s", got, d.Self())
	}
	sends := p.forwarded()
	if len(sends) != 1 {
		t.Fatalf("got %d forwards, want 1: %+v", len(sends), sends)
	}
	want := ChangeChainMessage(c.Self(), d.Self())
	if sends[0].to != b.Self() || sends[0].msg != want {
		t.Errorf("forward = %+v, want %+v to %s", sends[0], want, b.Self())
	}
}

func TestChangeChainAtTailIsDropped(t *testing.T) {
	p := newRecorder()
	l := New(p, WithExit(func() {}))
	p.reset()

	l.Notify(ChangeChainMessage(Handle(99), Handle(100)))

	if got := l.Next(); got != None {
		t.Errorf("Next() = %s, want none", got)
	}
	if sends := p.forwarded(); len(sends) != 0 {
		t.Errorf("tail forwarded a notice: %+v", sends)
	}
}

func TestForwardFailureStillRaises(t *testing.T) {
	p := newRecorder()
	links := build(t, p, 2)
	a, b := links[0], links[1]
	p.Close(b.Self())

	raised := make(chan struct{}, 1)
	a.Subscribe(func() { raised <- struct{}{} })

	a.Notify(DrawMessage())

	select {
	case <-raised:
	case <-time.After(time.Second):
		t.Fatal("change event not raised after failed forward")
	}
}

func TestEachDrawRaisesItsOwnEvent(t *testing.T) {
	p := newRecorder()
	l := New(p, WithExit(func() {}))

	release := make(chan struct{})
	var started atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	l.Subscribe(func() {
		started.Add(1)
		wg.Done()
		<-release
	})

	l.Notify(DrawMessage())
	l.Notify(DrawMessage())

	// Both handlers run even though neither has finished.
	waitGroup(t, &wg)
	close(release)
	if got := started.Load(); got != 2 {
		t.Fatalf("started %d handlers, want 2", got)
	}
}

func TestOtherMessagesUseDefault(t *testing.T) {
	p := newRecorder()
	l := New(p, WithExit(func() {}))

	if got := l.Notify(Message{Code: 0x0001}); got != 42 {
		t.Fatalf("Notify returned %d, want default result 42", got)
	}
	if p.defs != 1 {
		t.Fatalf("default handling ran %d times, want 1", p.defs)
	}
}

type panicky struct{ *Table }

func (panicky) Send(Handle, Message) error { panic("send blew up") }

func TestNotifyRecoversPanics(t *testing.T) {
	p := panicky{NewTable()}
	links := build(t, p, 2)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped Notify: %v", r)
		}
	}()
	links[0].Notify(DrawMessage())
	links[0].Notify(ChangeChainMessage(Handle(77), Handle(78)))
}

func TestRemoveRelinksAndExitsOnce(t *testing.T) {
	p := newRecorder()
	var exits atomic.Int32
	b := New(p, WithExit(func() {}))
	a := New(p, WithExit(func() { exits.Add(1) }))

	a.Remove()
	a.Remove()

	if got := exits.Load(); got != 1 {
		t.Fatalf("exit called %d times, want 1", got)
	}
	if len(p.moves) != 1 {
		t.Fatalf("ChangeChain called %d times, want 1", len(p.moves))
	}
	if want := ChangeChainMessage(a.Self(), b.Self()); p.moves[0] != want {
		t.Errorf("ChangeChain(%s, %s), want (%s, %s)",
			p.moves[0].Removed(), p.moves[0].Next(), a.Self(), b.Self())
	}
	if got := p.Head(); got != b.Self() {
		t.Errorf("head = %s after removal, want %s", got, b.Self())
	}
}

func TestRemoveFromMiddleRelinksPredecessor(t *testing.T) {
	p := newRecorder()
	links := build(t, p, 3)
	a, b, c := links[0], links[1], links[2]

	b.Remove()

	if got := a.Next(); got != c.Self() {
		t.Fatalf("a.Next() = %s, want %s", got, c.Self())
	}
}

type failingPlatform struct{ *Table }

func (failingPlatform) Open(Receiver) (Handle, error) {
	return None, errors.New("no window station")
}

func TestRegistrationFailureDegrades(t *testing.T) {
	p := failingPlatform{NewTable()}
	var exited atomic.Bool
	l := New(p, WithExit(func() { exited.Store(true) }))

	if l.Joined() {
		t.Fatal("Joined() = true after failed registration")
	}
	if l.Self() != None {
		t.Errorf("Self() = %s, want none", l.Self())
	}
	l.Remove()
	if !exited.Load() {
		t.Error("Remove did not exit in degraded mode")
	}
}

func TestPumpDrawsOnTick(t *testing.T) {
	tbl := NewTable()
	l := New(tbl, WithExit(func() {}))
	raised := make(chan struct{}, 1)
	l.Subscribe(func() { raised <- struct{}{} })

	ticks := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		Pump(t.Context(), tbl, ticks)
	}()

	ticks <- struct{}{}
	select {
	case <-raised:
	case <-time.After(time.Second):
		t.Fatal("pump tick did not raise a change event")
	}
	close(ticks)
	<-done
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change events")
	}
}
