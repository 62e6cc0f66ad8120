// Package scrcpytest provides a scripted scrcpy server side for tests.
package scrcpytest

import (
	"fmt"
	"io"
	"net"
	"time"

	"mirrorcore/scrcpy"
)

// Device plays the part of the server: it dials the client's listener the
// way the server does through the adb reverse tunnel.
type Device struct {
	Video   net.Conn
	Control net.Conn
}

// Dial opens the video then the control socket.
func Dial(addr string) (*Device, error) {
	video, err := dialRetry(addr)
	if err != nil {
		return nil, fmt.Errorf("dial video: %w", err)
	}
	control, err := dialRetry(addr)
	if err != nil {
		video.Close()
		return nil, fmt.Errorf("dial control: %w", err)
	}
	return &Device{Video: video, Control: control}, nil
}

func dialRetry(addr string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < 50; i++ {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	return nil, lastErr
}

func (d *Device) Handshake(meta scrcpy.DeviceMeta) error {
	_, err := d.Video.Write(scrcpy.EncodeHandshake(meta))
	return err
}

// SendPacket writes one framed packet; header.Size is set from payload.
func (d *Device) SendPacket(header scrcpy.FrameHeader, payload []byte) error {
	header.Size = uint32(len(payload))
	if _, err := d.Video.Write(scrcpy.EncodeFrameHeader(header)); err != nil {
		return err
	}
	_, err := d.Video.Write(payload)
	return err
}

func (d *Device) SendRaw(b []byte) error {
	_, err := d.Video.Write(b)
	return err
}

func (d *Device) SendDeviceMessage(b []byte) error {
	_, err := d.Control.Write(b)
	return err
}

// ReadControl reads exactly n bytes of control messages.
func (d *Device) ReadControl(n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	d.Control.SetReadDeadline(time.Now().Add(timeout))
	_, err := io.ReadFull(d.Control, buf)
	return buf, err
}

func (d *Device) Close() {
	d.Video.Close()
	d.Control.Close()
}
