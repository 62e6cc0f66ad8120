package scrcpy

// control messages (client -> device)
const TYPE_INJECT_KEYCODE byte = 0
const TYPE_INJECT_TEXT byte = 1
const TYPE_INJECT_TOUCH_EVENT byte = 2
const TYPE_INJECT_SCROLL_EVENT byte = 3
const TYPE_BACK_OR_SCREEN_ON byte = 4
const TYPE_EXPAND_NOTIFICATION_PANEL byte = 5
const TYPE_EXPAND_SETTINGS_PANEL byte = 6
const TYPE_COLLAPSE_PANELS byte = 7
const TYPE_GET_CLIPBOARD byte = 8
const TYPE_SET_CLIPBOARD byte = 9
const TYPE_SET_DISPLAY_POWER byte = 10
const TYPE_ROTATE_DEVICE byte = 11
const TYPE_UHID_CREATE byte = 12
const TYPE_UHID_INPUT byte = 13
const TYPE_UHID_DESTROY byte = 14
const TYPE_OPEN_HARD_KEYBOARD_SETTINGS byte = 15
const TYPE_START_APP byte = 16
const TYPE_RESET_VIDEO byte = 17

const COPY_KEY_NONE byte = 0
const COPY_KEY_COPY byte = 1
const COPY_KEY_CUT byte = 2

// android MotionEvent / KeyEvent actions
const ACTION_DOWN byte = 0
const ACTION_UP byte = 1
const ACTION_MOVE byte = 2

// android MotionEvent button state
const BUTTON_PRIMARY uint32 = 1 << 0
const BUTTON_SECONDARY uint32 = 1 << 1
const BUTTON_TERTIARY uint32 = 1 << 2
const BUTTON_BACK uint32 = 1 << 3
const BUTTON_FORWARD uint32 = 1 << 4

// Pointer ids understood by the server. Real fingers use small ids.
const POINTER_ID_MOUSE uint64 = 0xFFFFFFFFFFFFFFFF
const POINTER_ID_GENERIC_FINGER uint64 = 0xFFFFFFFFFFFFFFFE

// device messages (device -> client)
const DEVICE_MSG_TYPE_CLIPBOARD byte = 0
const DEVICE_MSG_TYPE_ACK_CLIPBOARD byte = 1
const DEVICE_MSG_TYPE_UHID_OUTPUT byte = 2

const (
	DeviceNameLength = 64
	// INJECT_TEXT payloads longer than this are rejected by the server.
	InjectTextMaxLength = 300
	// 256k minus the SET_CLIPBOARD header
	ClipboardTextMaxLength = 1<<18 - 14
)

// Touch event layout (32 bytes):
//
//	| type | action | pointer id | x   | y   | width | height | pressure | action button | buttons |
//	| 1    | 1      | 8          | 4   | 4   | 2     | 2      | 2        | 4             | 4       |
type TouchEvent struct {
	Action       byte
	PointerID    uint64
	PosX         uint32
	PosY         uint32
	Width        uint16
	Height       uint16
	Pressure     float32 // 0..1
	ActionButton uint32
	Buttons      uint32
}

type KeyEvent struct {
	Action    byte
	KeyCode   uint32
	Repeat    uint32
	MetaState uint32
}

// HScroll and VScroll are expressed in "wheel notches", the server accepts
// [-16, 16] encoded as 16-bit fixed point.
type ScrollEvent struct {
	PosX    uint32
	PosY    uint32
	Width   uint16
	Height  uint16
	HScroll float32
	VScroll float32
	Buttons uint32
}

type UHIDCreateEvent struct {
	ID         uint16
	VendorID   uint16
	ProductID  uint16
	Name       []byte
	ReportDesc []byte
}

type UHIDInputEvent struct {
	ID   uint16
	Data []byte
}
