package channel

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is returned by every operation once the channel is gone,
// whether the device hung up or Disconnect was called.
var ErrChannelClosed = errors.New("channel closed")

var ErrNotConnected = errors.New("channel not connected")

// ConnectError is a failure to establish the session: bind, accept or handshake.
type ConnectError struct {
	Op  string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError means a single control message was not delivered.
type SendError struct {
	Size int
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send control (%d bytes): %v", e.Size, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
