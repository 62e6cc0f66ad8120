// Package channel owns the sockets opened by the scrcpy server: the video
// socket carrying the handshake and media, and the control socket carrying
// control messages one way and device messages the other.
package channel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"mirrorcore/scrcpy"

	"github.com/rs/zerolog"
)

const (
	defaultChunkSize     = 64 * 1024
	defaultMaxPacketSize = 16 * 1024 * 1024
	defaultWriteTimeout  = 2 * time.Second
	deviceMsgBacklog     = 16
)

type Config struct {
	// Addr is the local listen address the adb reverse tunnel points at.
	Addr string
	// FrameMeta must match the send_frame_meta option given to the server.
	FrameMeta     bool
	ChunkSize     int
	MaxPacketSize uint32
	ReadBuffer    int
	WriteTimeout  time.Duration
}

type Option func(*Channel)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.log = l.With().Str("mod", "channel").Logger() }
}

type Channel struct {
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	listener    net.Listener
	videoConn   net.Conn
	controlConn net.Conn
	meta        scrcpy.DeviceMeta
	err         error

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	readers   sync.WaitGroup

	deviceMsgs chan scrcpy.DeviceMessage
	chunkBuf   []byte
}

func New(cfg Config, opts ...Option) *Channel {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = defaultMaxPacketSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	c := &Channel{
		cfg:        cfg,
		log:        zerolog.Nop(),
		done:       make(chan struct{}),
		deviceMsgs: make(chan scrcpy.DeviceMessage, deviceMsgBacklog),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Listen binds the local endpoint. The server must find it open when it
// starts, so this runs before the bootstrap.
func (c *Channel) Listen() error {
	if c.closed.Load() {
		return &ConnectError{Op: "listen", Err: ErrChannelClosed}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", c.cfg.Addr)
	if err != nil {
		return &ConnectError{Op: "listen", Err: err}
	}
	c.listener = ln
	c.log.Debug().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

// Addr returns the bound address, nil before Listen.
func (c *Channel) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Connect accepts the video and control sockets and reads the handshake.
// It unblocks when ctx is done or Disconnect is called. On failure the
// channel is closed.
func (c *Channel) Connect(ctx context.Context) (scrcpy.DeviceMeta, error) {
	if err := c.Listen(); err != nil {
		return scrcpy.DeviceMeta{}, err
	}
	meta, err := c.connect(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = &ConnectError{Op: "connect", Err: ctxErr}
		}
		c.shutdown(err)
		return scrcpy.DeviceMeta{}, err
	}
	return meta, nil
}

func (c *Channel) connect(ctx context.Context) (scrcpy.DeviceMeta, error) {
	stop := context.AfterFunc(ctx, c.closeSockets)
	defer stop()

	c.mu.Lock()
	ln := c.listener
	c.mu.Unlock()

	// the server opens video first, then control, and only then writes
	// the device meta on the first socket
	video, err := c.accept(ln, "accept video")
	if err != nil {
		return scrcpy.DeviceMeta{}, err
	}
	control, err := c.accept(ln, "accept control")
	if err != nil {
		return scrcpy.DeviceMeta{}, err
	}
	c.mu.Lock()
	c.listener = nil
	c.mu.Unlock()
	ln.Close()

	if deadline, ok := ctx.Deadline(); ok {
		video.SetReadDeadline(deadline)
	}
	meta, err := scrcpy.ReadHandshake(video)
	if err != nil {
		return scrcpy.DeviceMeta{}, &ConnectError{Op: "handshake", Err: err}
	}
	video.SetReadDeadline(time.Time{})
	if c.cfg.ReadBuffer > 0 {
		if tc, ok := video.(*net.TCPConn); ok {
			tc.SetReadBuffer(c.cfg.ReadBuffer)
		}
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return scrcpy.DeviceMeta{}, &ConnectError{Op: "handshake", Err: ErrChannelClosed}
	}
	c.meta = meta
	c.mu.Unlock()

	c.readers.Add(1)
	go c.readDeviceMessages(control)

	c.log.Info().
		Str("device", meta.Name).
		Str("codec", meta.CodecID).
		Uint32("width", meta.Width).
		Uint32("height", meta.Height).
		Msg("connected")
	return meta, nil
}

func (c *Channel) accept(ln net.Listener, op string) (net.Conn, error) {
	conn, err := ln.Accept()
	if err != nil {
		if c.closed.Load() {
			err = ErrChannelClosed
		}
		return nil, &ConnectError{Op: op, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return nil, &ConnectError{Op: op, Err: ErrChannelClosed}
	}
	// stored right away so Disconnect can interrupt the handshake
	if c.videoConn == nil {
		c.videoConn = conn
	} else {
		c.controlConn = conn
	}
	return conn, nil
}

// Meta returns the handshake result, zero before Connect succeeds.
func (c *Channel) Meta() scrcpy.DeviceMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// SendControl writes one serialized control message. Writes are serialized;
// a write stuck on a full socket gives up after WriteTimeout.
func (c *Channel) SendControl(msg []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.mu.Lock()
	conn := c.controlConn
	ready := c.meta.Width != 0
	c.mu.Unlock()
	if conn == nil || !ready {
		return &SendError{Size: len(msg), Err: ErrNotConnected}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if _, err := conn.Write(msg); err != nil {
		if c.closed.Load() {
			return ErrChannelClosed
		}
		return &SendError{Size: len(msg), Err: err}
	}
	return nil
}

// NextMediaChunk blocks until the next chunk of the video stream arrives.
// Any read failure closes the channel.
func (c *Channel) NextMediaChunk() (scrcpy.MediaChunk, error) {
	if c.closed.Load() {
		return scrcpy.MediaChunk{}, c.Err()
	}
	c.mu.Lock()
	conn := c.videoConn
	ready := c.meta.Width != 0
	c.mu.Unlock()
	if conn == nil || !ready {
		return scrcpy.MediaChunk{}, ErrNotConnected
	}

	if c.cfg.FrameMeta {
		chunk, err := scrcpy.ReadPacket(conn, c.cfg.MaxPacketSize)
		if err != nil {
			c.shutdown(fmt.Errorf("video: %w", err))
			return scrcpy.MediaChunk{}, c.Err()
		}
		return chunk, nil
	}

	if c.chunkBuf == nil {
		c.chunkBuf = make([]byte, c.cfg.ChunkSize)
	}
	n, err := conn.Read(c.chunkBuf)
	if n > 0 {
		data := make([]byte, n)
		copy(data, c.chunkBuf[:n])
		return scrcpy.MediaChunk{Data: data}, nil
	}
	if err == nil {
		err = errors.New("empty read")
	}
	c.shutdown(fmt.Errorf("video: %w", err))
	return scrcpy.MediaChunk{}, c.Err()
}

// Chunks yields media chunks until the channel closes.
func (c *Channel) Chunks() iter.Seq[scrcpy.MediaChunk] {
	return func(yield func(scrcpy.MediaChunk) bool) {
		for {
			chunk, err := c.NextMediaChunk()
			if err != nil {
				return
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

// DeviceMessages is closed when the control socket reader exits. The reader
// only exists after a successful Connect, so consumers should also watch Done.
func (c *Channel) DeviceMessages() <-chan scrcpy.DeviceMessage {
	return c.deviceMsgs
}

// Done is closed exactly once, when the channel is closed for any reason.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err reports why the channel closed. It matches ErrChannelClosed.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil && c.closed.Load() {
		return ErrChannelClosed
	}
	return c.err
}

// Disconnect closes everything and waits for the control reader. Safe to
// call any number of times from any goroutine.
func (c *Channel) Disconnect() error {
	c.shutdown(nil)
	c.readers.Wait()
	return nil
}

func (c *Channel) readDeviceMessages(conn net.Conn) {
	defer c.readers.Done()
	defer close(c.deviceMsgs)
	for {
		msg, err := scrcpy.ReadDeviceMessage(conn)
		if err != nil {
			c.shutdown(fmt.Errorf("control: %w", err))
			return
		}
		select {
		case c.deviceMsgs <- msg:
		default:
			c.log.Warn().Uint8("type", msg.Type).Msg("device message dropped")
		}
	}
}

func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.mu.Lock()
		if cause == nil || errors.Is(cause, ErrChannelClosed) {
			c.err = ErrChannelClosed
		} else {
			c.err = fmt.Errorf("%w: %v", ErrChannelClosed, cause)
		}
		c.mu.Unlock()
		c.closeSockets()
		if cause != nil {
			c.log.Info().Err(cause).Msg("channel closed")
		} else {
			c.log.Debug().Msg("channel disconnected")
		}
		close(c.done)
	})
}

func (c *Channel) closeSockets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
	if c.videoConn != nil {
		c.videoConn.Close()
	}
	if c.controlConn != nil {
		c.controlConn.Close()
	}
}
