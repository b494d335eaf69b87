//go:build linux || darwin

package clip

import (
	"bytes"
	"log/slog"
	"runtime"
	"time"

	"golang.design/x/clipboard"
)

const pollInterval = 250 * time.Millisecond

type unixBackend struct {
	watchCh  chan struct{}
	done     chan struct{}
	lastText []byte
}

// New returns the clipboard backend, or a headless no-op backend if the
// display environment is unavailable (e.g. a headless server without X11 or
// Wayland). clipboard.Init is called here rather than in init() so that the
// status sub-command doesn't trigger the warning.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return newHeadless()
	}
	b := &unixBackend{
		watchCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		lastText: clipboard.Read(clipboard.FmtText),
	}
	go b.poll()
	return b
}

func (b *unixBackend) Name() string {
	if runtime.GOOS == "darwin" {
		return "macOS NSPasteboard (poll)"
	}
	return "Linux clipboard (poll)"
}

// poll signals Watch whenever the text differs from the last observed value,
// including when it is cleared.
func (b *unixBackend) poll() {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			text := clipboard.Read(clipboard.FmtText)
			if bytes.Equal(text, b.lastText) {
				continue
			}
			b.lastText = text
			select {
			case b.watchCh <- struct{}{}:
			default:
			}
		}
	}
}

func (b *unixBackend) ReadText() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (b *unixBackend) WriteText(text string) error {
	// The returned channel fires when someone else takes the clipboard over;
	// nothing here cares.
	_ = clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func (b *unixBackend) Clear() error {
	_ = clipboard.Write(clipboard.FmtText, []byte{})
	return nil
}

func (b *unixBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *unixBackend) Close()                 { close(b.done) }
