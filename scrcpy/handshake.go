package scrcpy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	frameHeaderSize = 12
	flagConfig      = uint64(1) << 63
	flagKeyFrame    = uint64(1) << 62
	ptsMask         = flagKeyFrame - 1
)

// ReadDeviceName reads the 64 byte NUL padded device name.
func ReadDeviceName(r io.Reader) (string, error) {
	nameBuf := make([]byte, DeviceNameLength)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return "", fmt.Errorf("read device name: %w", err)
	}
	if i := bytes.IndexByte(nameBuf, 0); i >= 0 {
		nameBuf = nameBuf[:i]
	}
	return string(nameBuf), nil
}

// ReadVideoMeta reads codec id (4 bytes), width and height (4 bytes each).
func ReadVideoMeta(r io.Reader) (codecID string, width, height uint32, err error) {
	var metaBuf [12]byte
	if _, err = io.ReadFull(r, metaBuf[:]); err != nil {
		return "", 0, 0, fmt.Errorf("read video meta: %w", err)
	}
	codecID = string(metaBuf[0:4])
	width = binary.BigEndian.Uint32(metaBuf[4:8])
	height = binary.BigEndian.Uint32(metaBuf[8:12])
	if width == 0 || height == 0 {
		return "", 0, 0, fmt.Errorf("invalid video size %dx%d", width, height)
	}
	return codecID, width, height, nil
}

// ReadHandshake reads the full device meta sent on the first socket.
func ReadHandshake(r io.Reader) (DeviceMeta, error) {
	var meta DeviceMeta
	var err error
	if meta.Name, err = ReadDeviceName(r); err != nil {
		return meta, err
	}
	meta.CodecID, meta.Width, meta.Height, err = ReadVideoMeta(r)
	return meta, err
}

// EncodeHandshake is the server side of ReadHandshake.
func EncodeHandshake(meta DeviceMeta) []byte {
	buf := make([]byte, DeviceNameLength+12)
	copy(buf[:DeviceNameLength-1], meta.Name)
	copy(buf[DeviceNameLength:DeviceNameLength+4], meta.CodecID)
	binary.BigEndian.PutUint32(buf[DeviceNameLength+4:], meta.Width)
	binary.BigEndian.PutUint32(buf[DeviceNameLength+8:], meta.Height)
	return buf
}

func ParseFrameHeader(headerBuf []byte, header *FrameHeader) error {
	if len(headerBuf) < frameHeaderSize {
		return fmt.Errorf("frame header too short: %d", len(headerBuf))
	}
	ptsAndFlags := binary.BigEndian.Uint64(headerBuf[0:8])
	header.IsConfig = ptsAndFlags&flagConfig != 0
	header.IsKeyFrame = ptsAndFlags&flagKeyFrame != 0
	header.PTS = ptsAndFlags & ptsMask
	header.Size = binary.BigEndian.Uint32(headerBuf[8:12])
	return nil
}

func EncodeFrameHeader(header FrameHeader) []byte {
	buf := make([]byte, frameHeaderSize)
	ptsAndFlags := header.PTS & ptsMask
	if header.IsConfig {
		ptsAndFlags |= flagConfig
	}
	if header.IsKeyFrame {
		ptsAndFlags |= flagKeyFrame
	}
	binary.BigEndian.PutUint64(buf[0:8], ptsAndFlags)
	binary.BigEndian.PutUint32(buf[8:12], header.Size)
	return buf
}

// ReadPacket reads one framed media packet. maxSize guards against a corrupt
// header making us allocate gigabytes.
func ReadPacket(r io.Reader, maxSize uint32) (MediaChunk, error) {
	var headerBuf [frameHeaderSize]byte
	if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
		return MediaChunk{}, err
	}
	var header FrameHeader
	ParseFrameHeader(headerBuf[:], &header)
	if header.Size == 0 || (maxSize > 0 && header.Size > maxSize) {
		return MediaChunk{}, fmt.Errorf("invalid packet size %d", header.Size)
	}
	payload := make([]byte, header.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return MediaChunk{}, err
	}
	chunk := MediaChunk{
		Data:       payload,
		IsConfig:   header.IsConfig,
		IsKeyFrame: header.IsKeyFrame,
	}
	if !header.IsConfig {
		chunk.PTS = time.Duration(header.PTS) * time.Microsecond
		chunk.HasPTS = true
	}
	return chunk, nil
}
