package scrcpy

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadDeviceMessage reads one message from the control socket.
// Unknown types are fatal since their length cannot be known.
func ReadDeviceMessage(r io.Reader) (DeviceMessage, error) {
	var typeBuf [1]byte
	if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
		return DeviceMessage{}, err
	}
	msg := DeviceMessage{Type: typeBuf[0]}
	switch msg.Type {
	case DEVICE_MSG_TYPE_CLIPBOARD:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return msg, err
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length > ClipboardTextMaxLength {
			return msg, fmt.Errorf("clipboard too long: %d", length)
		}
		text := make([]byte, length)
		if _, err := io.ReadFull(r, text); err != nil {
			return msg, err
		}
		msg.Text = string(text)
	case DEVICE_MSG_TYPE_ACK_CLIPBOARD:
		var seqBuf [8]byte
		if _, err := io.ReadFull(r, seqBuf[:]); err != nil {
			return msg, err
		}
		msg.Sequence = binary.BigEndian.Uint64(seqBuf[:])
	case DEVICE_MSG_TYPE_UHID_OUTPUT:
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return msg, err
		}
		msg.UHIDID = binary.BigEndian.Uint16(hdr[0:2])
		msg.Data = make([]byte, binary.BigEndian.Uint16(hdr[2:4]))
		if _, err := io.ReadFull(r, msg.Data); err != nil {
			return msg, err
		}
	default:
		return msg, fmt.Errorf("unknown device message type %d", msg.Type)
	}
	return msg, nil
}

func EncodeClipboardMessage(text string) []byte {
	buf := make([]byte, 0, 5+len(text))
	buf = append(buf, DEVICE_MSG_TYPE_CLIPBOARD)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(text)))
	return append(buf, text...)
}
