package scrcpy

import (
	"encoding/binary"
	"fmt"
)

// Marshal serializes the touch event, 32 bytes big-endian.
func (e TouchEvent) Marshal() []byte {
	buf := make([]byte, 32)
	buf[0] = TYPE_INJECT_TOUCH_EVENT
	buf[1] = e.Action
	binary.BigEndian.PutUint64(buf[2:10], e.PointerID)
	binary.BigEndian.PutUint32(buf[10:14], e.PosX)
	binary.BigEndian.PutUint32(buf[14:18], e.PosY)
	binary.BigEndian.PutUint16(buf[18:20], e.Width)
	binary.BigEndian.PutUint16(buf[20:22], e.Height)
	binary.BigEndian.PutUint16(buf[22:24], floatToU16FP(e.Pressure))
	binary.BigEndian.PutUint32(buf[24:28], e.ActionButton)
	binary.BigEndian.PutUint32(buf[28:32], e.Buttons)
	return buf
}

// Marshal serializes the key event, 14 bytes.
func (e KeyEvent) Marshal() []byte {
	buf := make([]byte, 14)
	buf[0] = TYPE_INJECT_KEYCODE
	buf[1] = e.Action
	binary.BigEndian.PutUint32(buf[2:6], e.KeyCode)
	binary.BigEndian.PutUint32(buf[6:10], e.Repeat)
	binary.BigEndian.PutUint32(buf[10:14], e.MetaState)
	return buf
}

// Marshal serializes the scroll event, 21 bytes.
func (e ScrollEvent) Marshal() []byte {
	buf := make([]byte, 21)
	buf[0] = TYPE_INJECT_SCROLL_EVENT
	binary.BigEndian.PutUint32(buf[1:5], e.PosX)
	binary.BigEndian.PutUint32(buf[5:9], e.PosY)
	binary.BigEndian.PutUint16(buf[9:11], e.Width)
	binary.BigEndian.PutUint16(buf[11:13], e.Height)
	binary.BigEndian.PutUint16(buf[13:15], uint16(floatToI16FP(clamp(e.HScroll/16, -1, 1))))
	binary.BigEndian.PutUint16(buf[15:17], uint16(floatToI16FP(clamp(e.VScroll/16, -1, 1))))
	binary.BigEndian.PutUint32(buf[17:21], e.Buttons)
	return buf
}

func (e UHIDCreateEvent) Marshal() ([]byte, error) {
	if len(e.Name) > 0xFF {
		return nil, fmt.Errorf("uhid name too long: %d", len(e.Name))
	}
	if len(e.ReportDesc) > 0xFFFF {
		return nil, fmt.Errorf("uhid report descriptor too long: %d", len(e.ReportDesc))
	}
	// type + id + vendor + product + name size (1 byte) + name + desc size (2 bytes) + desc
	buf := make([]byte, 0, 1+2+2+2+1+len(e.Name)+2+len(e.ReportDesc))
	buf = append(buf, TYPE_UHID_CREATE)
	buf = binary.BigEndian.AppendUint16(buf, e.ID)
	buf = binary.BigEndian.AppendUint16(buf, e.VendorID)
	buf = binary.BigEndian.AppendUint16(buf, e.ProductID)
	buf = append(buf, byte(len(e.Name)))
	buf = append(buf, e.Name...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.ReportDesc)))
	buf = append(buf, e.ReportDesc...)
	return buf, nil
}

func (e UHIDInputEvent) Marshal() ([]byte, error) {
	if len(e.Data) > 0xFFFF {
		return nil, fmt.Errorf("uhid input too long: %d", len(e.Data))
	}
	buf := make([]byte, 0, 5+len(e.Data))
	buf = append(buf, TYPE_UHID_INPUT)
	buf = binary.BigEndian.AppendUint16(buf, e.ID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Data)))
	return append(buf, e.Data...), nil
}

func UHIDDestroy(id uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{TYPE_UHID_DESTROY}, id)
}

// Command builds a message that consists of the type byte only
// (panels, rotate, reset video, hard keyboard settings).
func Command(msgType byte) []byte {
	return []byte{msgType}
}

func BackOrScreenOn(action byte) []byte {
	return []byte{TYPE_BACK_OR_SCREEN_ON, action}
}

func SetDisplayPower(on bool) []byte {
	msg := []byte{TYPE_SET_DISPLAY_POWER, 0}
	if on {
		msg[1] = 1
	}
	return msg
}

func GetClipboard(copyKey byte) []byte {
	return []byte{TYPE_GET_CLIPBOARD, copyKey}
}

// SetClipboard truncates text to what the server accepts.
func SetClipboard(sequence uint64, text string, paste bool) []byte {
	data := truncateUTF8(text, ClipboardTextMaxLength)
	buf := make([]byte, 0, 14+len(data))
	buf = append(buf, TYPE_SET_CLIPBOARD)
	buf = binary.BigEndian.AppendUint64(buf, sequence)
	if paste {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func InjectText(text string) []byte {
	data := truncateUTF8(text, InjectTextMaxLength)
	buf := make([]byte, 0, 5+len(data))
	buf = append(buf, TYPE_INJECT_TEXT)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func floatToU16FP(f float32) uint16 {
	f = clamp(f, 0, 1)
	u := uint32(f * 65536)
	if u >= 0xFFFF {
		u = 0xFFFF
	}
	return uint16(u)
}

func floatToI16FP(f float32) int16 {
	i := int32(f * 32768)
	if i >= 0x7FFF {
		i = 0x7FFF
	}
	return int16(i)
}

func clamp(f, lo, hi float32) float32 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) []byte {
	if len(s) <= n {
		return []byte(s)
	}
	// continuation bytes are 10xxxxxx
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return []byte(s[:n])
}
