package chain

import "fmt"

// Handle identifies one observer in the clipboard-viewer chain. On Windows it
// is the observer's HWND. Zero means "no successor".
type Handle uintptr

// None is the zero Handle: the end of the chain.
const None Handle = 0

func (h Handle) String() string {
	if h == None {
		return "none"
	}
	return fmt.Sprintf("%#x", uintptr(h))
}

// Notification codes, as defined in winuser.h.
const (
	codeDrawClipboard uint32 = 0x0308 // WM_DRAWCLIPBOARD
	codeChangeCBChain uint32 = 0x030D // WM_CHANGECBCHAIN
)

// Kind classifies a chain notification.
type Kind int

const (
	KindOther Kind = iota
	// KindDraw reports that the clipboard contents changed.
	KindDraw
	// KindChangeChain reports that a member left the chain. WParam carries
	// the removed member and LParam its successor.
	KindChangeChain
)

func (k Kind) String() string {
	switch k {
	case KindDraw:
		return "draw"
	case KindChangeChain:
		return "change-chain"
	default:
		return "other"
	}
}

// KindOf maps a raw notification code to its Kind.
func KindOf(code uint32) Kind {
	switch code {
	case codeDrawClipboard:
		return KindDraw
	case codeChangeCBChain:
		return KindChangeChain
	default:
		return KindOther
	}
}

// Message is one notification delivered to a chain member. The raw fields
// are kept so a message can be forwarded to a successor unchanged.
type Message struct {
	Code   uint32
	WParam uintptr
	LParam uintptr
}

// DrawMessage returns a clipboard-changed notification.
func DrawMessage() Message {
	return Message{Code: codeDrawClipboard}
}

// ChangeChainMessage returns the notification sent when removed leaves the
// chain and next takes its place.
func ChangeChainMessage(removed, next Handle) Message {
	return Message{
		Code:   codeChangeCBChain,
		WParam: uintptr(removed),
		LParam: uintptr(next),
	}
}

// Kind reports what the message means.
func (m Message) Kind() Kind { return KindOf(m.Code) }

// Removed is the member that left, for KindChangeChain.
func (m Message) Removed() Handle { return Handle(m.WParam) }

// Next is the successor of the member that left, for KindChangeChain.
func (m Message) Next() Handle { return Handle(m.LParam) }
