package input

import "mirrorcore/scrcpy"

type Kind string

const (
	PointerDown Kind = "pointer_down"
	PointerMove Kind = "pointer_move"
	PointerUp   Kind = "pointer_up"
	Scroll      Kind = "scroll"
	KeyDown     Kind = "key_down"
	KeyUp       Kind = "key_up"
	FocusLost   Kind = "focus_lost"
)

type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
	ButtonBack   Button = "back"
	ButtonFwd    Button = "forward"
)

func (b Button) mask() uint32 {
	switch b {
	case ButtonLeft, "":
		return scrcpy.BUTTON_PRIMARY
	case ButtonRight:
		return scrcpy.BUTTON_SECONDARY
	case ButtonMiddle:
		return scrcpy.BUTTON_TERTIARY
	case ButtonBack:
		return scrcpy.BUTTON_BACK
	case ButtonFwd:
		return scrcpy.BUTTON_FORWARD
	}
	return 0
}

// Event is a local input event. X and Y are in local surface pixels.
type Event struct {
	Kind    Kind    `json:"kind"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Button  Button  `json:"button,omitempty"`
	Key     string  `json:"key,omitempty"`
	Repeat  uint32  `json:"repeat,omitempty"`
	HScroll float64 `json:"hscroll,omitempty"`
	VScroll float64 `json:"vscroll,omitempty"`
	// Touch events carry a finger id, mouse events leave it unset.
	Touch   bool   `json:"touch,omitempty"`
	Pointer uint64 `json:"pointer,omitempty"`
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

type CommandKind string

const (
	CmdBackOrScreenOn       CommandKind = "back_or_screen_on"
	CmdExpandNotifications  CommandKind = "expand_notifications"
	CmdExpandSettings       CommandKind = "expand_settings"
	CmdCollapsePanels       CommandKind = "collapse_panels"
	CmdRotate               CommandKind = "rotate"
	CmdResetVideo           CommandKind = "reset_video"
	CmdSetClipboard         CommandKind = "set_clipboard"
	CmdGetClipboard         CommandKind = "get_clipboard"
	CmdInjectText           CommandKind = "inject_text"
	CmdDisplayPower         CommandKind = "display_power"
	CmdOpenKeyboardSettings CommandKind = "keyboard_settings"
)

// Command is a device action that has no local input counterpart.
type Command struct {
	Kind  CommandKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Paste bool        `json:"paste,omitempty"`
	On    bool        `json:"on,omitempty"`
}
