package scrcpy

import "time"

// DeviceMeta is what the server sends on the video socket before any media.
type DeviceMeta struct {
	Name    string `json:"name"`
	CodecID string `json:"codec_id"`
	Width   uint32 `json:"width"`
	Height  uint32 `json:"height"`
}

type FrameHeader struct {
	IsConfig   bool
	IsKeyFrame bool
	PTS        uint64 // microseconds
	Size       uint32
}

// MediaChunk is one unit read from the video socket. When the server sends
// frame meta it is exactly one packet, otherwise an arbitrary slice of the
// raw stream with HasPTS unset.
type MediaChunk struct {
	Data       []byte
	PTS        time.Duration
	HasPTS     bool
	IsConfig   bool
	IsKeyFrame bool
}

type DeviceMessage struct {
	Type     byte
	Text     string // clipboard
	Sequence uint64 // clipboard ack
	UHIDID   uint16
	Data     []byte // uhid output
}

type ServerOptions struct {
	Version           string
	SCID              uint32 // 0 means unset
	MaxSize           int
	VideoBitRate      int
	MaxFPS            int
	VideoCodec        string
	VideoCodecOptions string
	SendFrameMeta     bool
	LogLevel          string
	Extra             []string // raw key=value pairs
}
