// Package decoder drives a video decoder from the media stream and deposits
// its output in a framebuffer.Buffer.
package decoder

import (
	"errors"
	"fmt"
	"time"

	"mirrorcore/scrcpy"
)

// ErrUnrecoverable is wrapped by decoders that cannot continue. The pump
// treats it like end of stream.
var ErrUnrecoverable = errors.New("decoder: unrecoverable")

// DecodeError is how the pump reports a fatal decoder failure.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Picture is decoder output. The pump copies it into a frame before the next
// Decode call, so decoders may reuse the memory.
type Picture struct {
	Planes   [][]byte
	Strides  []int
	Width    int
	Height   int
	PTS      time.Duration
	KeyFrame bool
}

// Decoder turns media chunks into pictures. A chunk may produce zero, one or
// several pictures. Errors are per chunk unless they wrap ErrUnrecoverable.
type Decoder interface {
	Decode(chunk scrcpy.MediaChunk) ([]Picture, error)
	Close() error
}
