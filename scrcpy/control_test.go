package scrcpy

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchEventMarshal(t *testing.T) {
	buf := TouchEvent{
		Action:       ACTION_DOWN,
		PointerID:    POINTER_ID_MOUSE,
		PosX:         800,
		PosY:         400,
		Width:        1600,
		Height:       800,
		Pressure:     1,
		ActionButton: BUTTON_PRIMARY,
		Buttons:      BUTTON_PRIMARY,
	}.Marshal()

	require.Len(t, buf, 32)
	assert.Equal(t, TYPE_INJECT_TOUCH_EVENT, buf[0])
	assert.Equal(t, ACTION_DOWN, buf[1])
	assert.Equal(t, POINTER_ID_MOUSE, binary.BigEndian.Uint64(buf[2:10]))
	assert.Equal(t, uint32(800), binary.BigEndian.Uint32(buf[10:14]))
	assert.Equal(t, uint32(400), binary.BigEndian.Uint32(buf[14:18]))
	assert.Equal(t, uint16(1600), binary.BigEndian.Uint16(buf[18:20]))
	assert.Equal(t, uint16(800), binary.BigEndian.Uint16(buf[20:22]))
	assert.Equal(t, uint16(0xFFFF), binary.BigEndian.Uint16(buf[22:24]))
	assert.Equal(t, BUTTON_PRIMARY, binary.BigEndian.Uint32(buf[24:28]))
	assert.Equal(t, BUTTON_PRIMARY, binary.BigEndian.Uint32(buf[28:32]))
}

func TestKeyEventMarshal(t *testing.T) {
	buf := KeyEvent{Action: ACTION_UP, KeyCode: 66, Repeat: 2, MetaState: 1}.Marshal()
	require.Len(t, buf, 14)
	assert.Equal(t, TYPE_INJECT_KEYCODE, buf[0])
	assert.Equal(t, ACTION_UP, buf[1])
	assert.Equal(t, uint32(66), binary.BigEndian.Uint32(buf[2:6]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(buf[6:10]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf[10:14]))
}

func TestScrollEventFixedPoint(t *testing.T) {
	buf := ScrollEvent{PosX: 1, PosY: 2, Width: 10, Height: 20, HScroll: -16, VScroll: 8}.Marshal()
	require.Len(t, buf, 21)
	assert.Equal(t, TYPE_INJECT_SCROLL_EVENT, buf[0])
	assert.Equal(t, int16(-32768), int16(binary.BigEndian.Uint16(buf[13:15])))
	assert.Equal(t, int16(16384), int16(binary.BigEndian.Uint16(buf[15:17])))

	// out of range values saturate
	buf = ScrollEvent{VScroll: 100}.Marshal()
	assert.Equal(t, int16(0x7FFF), int16(binary.BigEndian.Uint16(buf[15:17])))
}

func TestSetClipboardTruncatesOnRuneBoundary(t *testing.T) {
	text := strings.Repeat("é", ClipboardTextMaxLength) // 2 bytes each
	buf := SetClipboard(7, text, true)

	assert.Equal(t, TYPE_SET_CLIPBOARD, buf[0])
	assert.Equal(t, uint64(7), binary.BigEndian.Uint64(buf[1:9]))
	assert.Equal(t, byte(1), buf[9])
	n := binary.BigEndian.Uint32(buf[10:14])
	assert.LessOrEqual(t, int(n), ClipboardTextMaxLength)
	assert.Equal(t, 0, int(n)%2)
	assert.Len(t, buf, 14+int(n))
}

func TestInjectText(t *testing.T) {
	buf := InjectText("hello")
	assert.Equal(t, []byte{TYPE_INJECT_TEXT, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}, buf)
}

func TestUHIDCreateLayout(t *testing.T) {
	buf, err := UHIDCreateEvent{ID: 1, VendorID: 2, ProductID: 3, Name: []byte("kb"), ReportDesc: []byte{9, 9, 9}}.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{TYPE_UHID_CREATE, 0, 1, 0, 2, 0, 3, 2, 'k', 'b', 0, 3, 9, 9, 9}, buf)

	_, err = UHIDCreateEvent{Name: make([]byte, 300)}.Marshal()
	assert.Error(t, err)
}

func TestSmallCommands(t *testing.T) {
	assert.Equal(t, []byte{TYPE_RESET_VIDEO}, Command(TYPE_RESET_VIDEO))
	assert.Equal(t, []byte{TYPE_BACK_OR_SCREEN_ON, ACTION_DOWN}, BackOrScreenOn(ACTION_DOWN))
	assert.Equal(t, []byte{TYPE_SET_DISPLAY_POWER, 1}, SetDisplayPower(true))
	assert.Equal(t, []byte{TYPE_GET_CLIPBOARD, COPY_KEY_COPY}, GetClipboard(COPY_KEY_COPY))
	assert.Equal(t, []byte{TYPE_UHID_DESTROY, 0x01, 0x02}, UHIDDestroy(0x0102))
}

func TestReadControlMessage(t *testing.T) {
	uhid, err := UHIDCreateEvent{ID: 1, Name: []byte("kb"), ReportDesc: []byte{5, 1}}.Marshal()
	require.NoError(t, err)
	input, err := UHIDInputEvent{ID: 1, Data: []byte{0, 0, 4}}.Marshal()
	require.NoError(t, err)

	msgs := [][]byte{
		TouchEvent{Action: ACTION_DOWN, PosX: 10, PosY: 20, Width: 100, Height: 200, Pressure: 1}.Marshal(),
		KeyEvent{Action: ACTION_UP, KeyCode: 29}.Marshal(),
		ScrollEvent{VScroll: 1}.Marshal(),
		Command(TYPE_RESET_VIDEO),
		BackOrScreenOn(ACTION_DOWN),
		GetClipboard(COPY_KEY_COPY),
		SetClipboard(7, "hello", true),
		InjectText("abc"),
		uhid,
		input,
		UHIDDestroy(1),
	}
	var stream bytes.Buffer
	for _, m := range msgs {
		stream.Write(m)
	}
	for _, want := range msgs {
		got, err := ReadControlMessage(&stream)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = ReadControlMessage(&stream)
	assert.Error(t, err)

	seq, text, ok := ClipboardText(msgs[6])
	assert.True(t, ok)
	assert.Equal(t, uint64(7), seq)
	assert.Equal(t, "hello", text)
	_, _, ok = ClipboardText(msgs[5])
	assert.False(t, ok)

	_, err = ReadControlMessage(bytes.NewReader([]byte{0xEE}))
	assert.ErrorContains(t, err, "unknown control message")
}

func TestEncodeAckClipboard(t *testing.T) {
	msg, err := ReadDeviceMessage(bytes.NewReader(EncodeAckClipboard(42)))
	require.NoError(t, err)
	assert.Equal(t, DEVICE_MSG_TYPE_ACK_CLIPBOARD, msg.Type)
	assert.Equal(t, uint64(42), msg.Sequence)
}
