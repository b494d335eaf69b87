// Package clip provides plain-text access to the system clipboard across
// platforms. Build constraints select the implementation:
//
//	clip_windows.go  Win32 OpenClipboard / CF_UNICODETEXT via x/sys/windows
//	clip_unix.go     Linux and macOS via golang.design/x/clipboard, polled
//	clip_other.go    headless stub
//
// Memory is an in-process clipboard for headless runs and tests.
package clip

import "errors"

// ErrClipboardBusy is returned when another process holds the clipboard open.
// It is transient; callers may retry.
var ErrClipboardBusy = errors.New("clipboard: held by another process")

// Backend is the interface that all clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// ReadText returns the clipboard text, or "" if the clipboard holds no text.
	ReadText() (string, error)

	// WriteText replaces the clipboard contents with text.
	WriteText(text string) error

	// Clear empties the clipboard.
	Clear() error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed. Backends whose change
	// notifications arrive through the viewer chain (Windows) never signal.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}
