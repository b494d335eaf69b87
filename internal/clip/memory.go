package clip

import "sync"

// Memory is an in-process clipboard. Every successful change signals Watch,
// as a system clipboard would notify its viewers.
type Memory struct {
	mu      sync.Mutex
	text    string
	busy    int
	writes  int
	clears  int
	reads   int
	watchCh chan struct{}
}

// NewMemory returns a Memory clipboard holding text.
func NewMemory(text string) *Memory {
	return &Memory{text: text, watchCh: make(chan struct{}, 1)}
}

func (m *Memory) Name() string { return "in-memory" }

func (m *Memory) ReadText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.text, nil
}

// WriteText fails with ErrClipboardBusy while Hold has attempts left.
func (m *Memory) WriteText(text string) error {
	m.mu.Lock()
	m.writes++
	if m.busy > 0 {
		m.busy--
		m.mu.Unlock()
		return ErrClipboardBusy
	}
	m.text = text
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	m.clears++
	m.text = ""
	m.mu.Unlock()
	m.signal()
	return nil
}

// Copy replaces the text as a local user would, without counting as a write.
func (m *Memory) Copy(text string) {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
	m.signal()
}

// Hold makes the next n writes fail as if another process had the
// clipboard open. A negative n holds it forever.
func (m *Memory) Hold(n int) {
	m.mu.Lock()
	if n < 0 {
		n = int(^uint(0) >> 1)
	}
	m.busy = n
	m.mu.Unlock()
}

// Stats returns how many reads, writes (including failed ones) and clears
// have been attempted.
func (m *Memory) Stats() (reads, writes, clears int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes, m.clears
}

func (m *Memory) Watch() <-chan struct{} { return m.watchCh }
func (m *Memory) Close()                 {}

func (m *Memory) signal() {
	select {
	case m.watchCh <- struct{}{}:
	default:
	}
}
