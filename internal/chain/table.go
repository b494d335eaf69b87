package chain

import (
	"context"
	"fmt"
	"sync"
)

// Table is an in-process clipboard-viewer chain: a handle-indexed set of
// members plus a head pointer. Each member's successor is known only to the
// member itself, as with the Win32 chain. It backs the agent on systems
// without a native viewer chain and stands in for the OS in tests.
//
// Deliveries are synchronous and happen outside the table lock, so a member
// may Send from inside Notify.
type Table struct {
	mu      sync.Mutex
	last    Handle
	head    Handle
	members map[Handle]Receiver
}

// NewTable returns an empty chain.
func NewTable() *Table {
	return &Table{members: make(map[Handle]Receiver)}
}

// Open implements Platform.
func (t *Table) Open(r Receiver) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last++
	t.members[t.last] = r
	return t.last, nil
}

// SetViewer implements Platform. Like SetClipboardViewer, the new head gets
// an initial draw notification before the call returns.
func (t *Table) SetViewer(self Handle) (Handle, error) {
	t.mu.Lock()
	r, ok := t.members[self]
	if !ok {
		t.mu.Unlock()
		return None, fmt.Errorf("set viewer %s: %w", self, ErrInvalidHandle)
	}
	prev := t.head
	t.head = self
	t.mu.Unlock()

	r.Notify(DrawMessage())
	return prev, nil
}

// ChangeChain implements Platform. When the head leaves, the head moves to
// next; otherwise the head is told, and the notice travels down the chain
// until it reaches the predecessor of remove.
func (t *Table) ChangeChain(remove, next Handle) error {
	t.mu.Lock()
	if t.head == remove {
		t.head = next
		t.mu.Unlock()
		return nil
	}
	head := t.head
	r, ok := t.members[head]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	r.Notify(ChangeChainMessage(remove, next))
	return nil
}

// Send implements Platform.
func (t *Table) Send(to Handle, m Message) error {
	t.mu.Lock()
	r, ok := t.members[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", to, ErrInvalidHandle)
	}
	r.Notify(m)
	return nil
}

// Default implements Platform. The table has no default handling.
func (t *Table) Default(Handle, Message) uintptr { return 0 }

// Draw reports a clipboard change to the head of the chain, as the OS does.
func (t *Table) Draw() error {
	t.mu.Lock()
	head := t.head
	r, ok := t.members[head]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("draw: %w", ErrInvalidHandle)
	}
	r.Notify(DrawMessage())
	return nil
}

// Head returns the current head of the chain.
func (t *Table) Head() Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.head
}

// Close drops h without any notification, as when a process dies without
// leaving the chain. References to h held by other members go stale.
func (t *Table) Close(h Handle) {
	t.mu.Lock()
	delete(t.members, h)
	t.mu.Unlock()
}

// Pump reports a clipboard change to t for every tick received on changes,
// until ctx is done or changes is closed.
func Pump(ctx context.Context, t *Table, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			_ = t.Draw()
		}
	}
}
