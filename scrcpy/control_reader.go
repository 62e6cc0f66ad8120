package scrcpy

import (
	"encoding/binary"
	"fmt"
	"io"
)

// fixed sizes of control messages, type byte included
var controlMsgSize = map[byte]int{
	TYPE_INJECT_KEYCODE:              14,
	TYPE_INJECT_TOUCH_EVENT:          32,
	TYPE_INJECT_SCROLL_EVENT:         21,
	TYPE_BACK_OR_SCREEN_ON:           2,
	TYPE_EXPAND_NOTIFICATION_PANEL:   1,
	TYPE_EXPAND_SETTINGS_PANEL:       1,
	TYPE_COLLAPSE_PANELS:             1,
	TYPE_GET_CLIPBOARD:               2,
	TYPE_SET_DISPLAY_POWER:           2,
	TYPE_ROTATE_DEVICE:               1,
	TYPE_UHID_DESTROY:                3,
	TYPE_OPEN_HARD_KEYBOARD_SETTINGS: 1,
	TYPE_RESET_VIDEO:                 1,
}

// ReadControlMessage reads one control message the way the server does and
// returns it whole, type byte first. It is the device side of the control
// socket, used by stand-in servers.
func ReadControlMessage(r io.Reader) ([]byte, error) {
	msg := make([]byte, 1, 32)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	if size, ok := controlMsgSize[msg[0]]; ok {
		return readMore(r, msg, size-1)
	}

	var err error
	switch msg[0] {
	case TYPE_INJECT_TEXT:
		// u32 length + text
		if msg, err = readMore(r, msg, 4); err != nil {
			return nil, err
		}
		return readMore(r, msg, int(binary.BigEndian.Uint32(msg[1:5])))
	case TYPE_SET_CLIPBOARD:
		// u64 sequence + paste flag + u32 length + text
		if msg, err = readMore(r, msg, 13); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(msg[10:14])
		if n > ClipboardTextMaxLength {
			return nil, fmt.Errorf("clipboard too long: %d", n)
		}
		return readMore(r, msg, int(n))
	case TYPE_UHID_CREATE:
		// id, vendor, product + u8 name length + name + u16 desc length + desc
		if msg, err = readMore(r, msg, 7); err != nil {
			return nil, err
		}
		if msg, err = readMore(r, msg, int(msg[7])+2); err != nil {
			return nil, err
		}
		return readMore(r, msg, int(binary.BigEndian.Uint16(msg[len(msg)-2:])))
	case TYPE_UHID_INPUT:
		if msg, err = readMore(r, msg, 4); err != nil {
			return nil, err
		}
		return readMore(r, msg, int(binary.BigEndian.Uint16(msg[3:5])))
	case TYPE_START_APP:
		if msg, err = readMore(r, msg, 1); err != nil {
			return nil, err
		}
		return readMore(r, msg, int(msg[1]))
	}
	return nil, fmt.Errorf("unknown control message type %d", msg[0])
}

func readMore(r io.Reader, msg []byte, n int) ([]byte, error) {
	if n == 0 {
		return msg, nil
	}
	start := len(msg)
	msg = append(msg, make([]byte, n)...)
	if _, err := io.ReadFull(r, msg[start:]); err != nil {
		return nil, err
	}
	return msg, nil
}

// ClipboardText extracts the text of a SET_CLIPBOARD message.
func ClipboardText(msg []byte) (sequence uint64, text string, ok bool) {
	if len(msg) < 14 || msg[0] != TYPE_SET_CLIPBOARD {
		return 0, "", false
	}
	return binary.BigEndian.Uint64(msg[1:9]), string(msg[14:]), true
}

func EncodeAckClipboard(sequence uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{DEVICE_MSG_TYPE_ACK_CLIPBOARD}, sequence)
}
