//go:build windows

package chain

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procRegisterClassExW     = user32.NewProc("RegisterClassExW")
	procCreateWindowExW      = user32.NewProc("CreateWindowExW")
	procDefWindowProcW       = user32.NewProc("DefWindowProcW")
	procDestroyWindow        = user32.NewProc("DestroyWindow")
	procGetMessageW          = user32.NewProc("GetMessageW")
	procTranslateMessage     = user32.NewProc("TranslateMessage")
	procDispatchMessageW     = user32.NewProc("DispatchMessageW")
	procPostMessageW         = user32.NewProc("PostMessageW")
	procPostQuitMessage      = user32.NewProc("PostQuitMessage")
	procSendMessageW         = user32.NewProc("SendMessageW")
	procSetClipboardViewer   = user32.NewProc("SetClipboardViewer")
	procChangeClipboardChain = user32.NewProc("ChangeClipboardChain")

	procGetModuleHandleW = kernel32.NewProc("GetModuleHandleW")
	procSetLastError     = kernel32.NewProc("SetLastError")
)

const (
	wmDestroy = 0x0002
	wmClose   = 0x0010

	// HWND_MESSAGE, (HWND)-3: the parent of message-only windows.
	hwndMessage = ^uintptr(2)

	errorClassAlreadyExists = 1410
	errorInvalidWindow      = 1400
)

const windowClassName = "GuestclipClipboardChain"

type wndClassEx struct {
	size       uint32
	style      uint32
	wndProc    uintptr
	clsExtra   int32
	wndExtra   int32
	instance   windows.Handle
	icon       windows.Handle
	cursor     windows.Handle
	background windows.Handle
	menuName   *uint16
	className  *uint16
	iconSm     windows.Handle
}

type point struct{ x, y int32 }

type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      point
	private uint32
}

var (
	registerOnce sync.Once
	registerErr  error
	className    *uint16

	// windowsMu guards windowsByHandle, which routes window procedure calls
	// to their Win32 instance.
	windowsMu       sync.RWMutex
	windowsByHandle = map[uintptr]*Win32{}
)

// Win32 is the Windows clipboard-viewer chain. Its member is a message-only
// window whose message loop owns a dedicated OS thread; chain notifications
// arrive on that thread.
type Win32 struct {
	hwnd uintptr

	mu   sync.RWMutex
	recv Receiver

	done chan struct{}
}

// NewWin32 creates the message-only window and starts its message loop.
func NewWin32() (*Win32, error) {
	w := &Win32{done: make(chan struct{})}
	ready := make(chan error, 1)
	go w.loop(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Win32) loop(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	hwnd, err := createWindow()
	if err != nil {
		ready <- err
		return
	}
	w.hwnd = hwnd
	windowsMu.Lock()
	windowsByHandle[hwnd] = w
	windowsMu.Unlock()
	defer func() {
		windowsMu.Lock()
		delete(windowsByHandle, hwnd)
		windowsMu.Unlock()
	}()
	ready <- nil

	var m msg
	for {
		ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(ret) <= 0 {
			// 0 is WM_QUIT, -1 an error; both end the loop.
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
	}
}

// Close destroys the window and waits for the message loop to exit.
// It does not leave the chain; call ChangeChain first.
func (w *Win32) Close() {
	procPostMessageW.Call(w.hwnd, wmClose, 0, 0)
	<-w.done
}

// Open implements Platform. A Win32 has one window and so one member.
func (w *Win32) Open(r Receiver) (Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recv != nil {
		return None, errors.New("chain: win32 window already has a receiver")
	}
	w.recv = r
	return Handle(w.hwnd), nil
}

// SetViewer implements Platform.
func (w *Win32) SetViewer(self Handle) (Handle, error) {
	procSetLastError.Call(0)
	next, _, err := procSetClipboardViewer.Call(uintptr(self))
	// A NULL result is also what an empty chain returns; only the last
	// error tells the two apart.
	if next == 0 && isErrno(err) {
		return None, fmt.Errorf("SetClipboardViewer: %w", err)
	}
	return Handle(next), nil
}

// ChangeChain implements Platform.
func (w *Win32) ChangeChain(remove, next Handle) error {
	procSetLastError.Call(0)
	_, _, err := procChangeClipboardChain.Call(uintptr(remove), uintptr(next))
	if isErrno(err) {
		return fmt.Errorf("ChangeClipboardChain: %w", err)
	}
	return nil
}

// Send implements Platform.
func (w *Win32) Send(to Handle, m Message) error {
	procSetLastError.Call(0)
	_, _, err := procSendMessageW.Call(uintptr(to), uintptr(m.Code), m.WParam, m.LParam)
	if isErrno(err) {
		if errno, ok := err.(windows.Errno); ok && errno == errorInvalidWindow {
			return fmt.Errorf("send to %s: %w", to, ErrInvalidHandle)
		}
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// Default implements Platform.
func (w *Win32) Default(self Handle, m Message) uintptr {
	ret, _, _ := procDefWindowProcW.Call(uintptr(self), uintptr(m.Code), m.WParam, m.LParam)
	return ret
}

func (w *Win32) receiver() Receiver {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.recv
}

func wndProc(hwnd, code, wParam, lParam uintptr) uintptr {
	switch code {
	case wmClose:
		procDestroyWindow.Call(hwnd)
		return 0
	case wmDestroy:
		procPostQuitMessage.Call(0)
		return 0
	}

	windowsMu.RLock()
	w := windowsByHandle[hwnd]
	windowsMu.RUnlock()

	if w != nil {
		if r := w.receiver(); r != nil {
			// The Link falls back to Default for anything that is not a
			// chain notification.
			return r.Notify(Message{Code: uint32(code), WParam: wParam, LParam: lParam})
		}
	}
	ret, _, _ := procDefWindowProcW.Call(hwnd, code, wParam, lParam)
	return ret
}

func createWindow() (uintptr, error) {
	registerOnce.Do(func() { registerErr = registerClass() })
	if registerErr != nil {
		return 0, registerErr
	}

	instance, _, _ := procGetModuleHandleW.Call(0)
	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(className)),
		0,
		0,
		0, 0, 0, 0,
		hwndMessage,
		0,
		instance,
		0,
	)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowExW: %w", err)
	}
	return hwnd, nil
}

func registerClass() error {
	name, err := windows.UTF16PtrFromString(windowClassName)
	if err != nil {
		return err
	}
	className = name

	instance, _, _ := procGetModuleHandleW.Call(0)
	wc := wndClassEx{
		size:      uint32(unsafe.Sizeof(wndClassEx{})),
		wndProc:   windows.NewCallback(wndProc),
		instance:  windows.Handle(instance),
		className: name,
	}
	ret, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc)))
	if ret == 0 {
		if errno, ok := err.(windows.Errno); ok && errno == errorClassAlreadyExists {
			return nil
		}
		return fmt.Errorf("RegisterClassExW: %w", err)
	}
	return nil
}

func isErrno(err error) bool {
	errno, ok := err.(windows.Errno)
	return ok && errno != 0
}
