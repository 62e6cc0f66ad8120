// Package replay stands in for the scrcpy server with a recorded Annex-B
// file: it connects to the session like the real server would and plays
// the file in a loop. It needs no device, which makes it handy for demos
// and for exercising the whole pipeline.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mirrorcore/decoder"
	"mirrorcore/scrcpy"
	"mirrorcore/session"

	"github.com/rs/zerolog"
)

const (
	defaultFPS    = 30
	defaultWidth  = 1280
	defaultHeight = 720
)

type Option func(*Bootstrapper)

func WithFPS(fps int) Option {
	return func(b *Bootstrapper) {
		if fps > 0 {
			b.fps = fps
		}
	}
}

// WithCodec selects h264 or h265, the default is h264.
func WithCodec(codec string) Option {
	return func(b *Bootstrapper) { b.codec = codec }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bootstrapper) { b.log = l.With().Str("mod", "replay").Logger() }
}

type accessUnit struct {
	data []byte
	key  bool
}

// Bootstrapper implements session.Bootstrapper for a file.
type Bootstrapper struct {
	path  string
	fps   int
	codec string
	log   zerolog.Logger

	mu        sync.Mutex
	video     net.Conn
	control   net.Conn
	clipboard string
	keyframe  chan struct{}
	quit      chan struct{}
	wg        sync.WaitGroup
}

func New(path string, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		path:  path,
		fps:   defaultFPS,
		codec: "h264",
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// load splits the file into access units with the same reassembly the
// session uses on a raw stream.
func (b *Bootstrapper) load() ([]accessUnit, scrcpy.DeviceMeta, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, scrcpy.DeviceMeta{}, err
	}
	d := decoder.NewAnnexB(b.codec, false)
	defer d.Close()
	// a trailing delimiter flushes the last access unit
	pics, err := d.Decode(scrcpy.MediaChunk{Data: append(data, b.trailer()...)})
	if err != nil {
		return nil, scrcpy.DeviceMeta{}, fmt.Errorf("parse %s: %w", b.path, err)
	}
	if len(pics) == 0 {
		return nil, scrcpy.DeviceMeta{}, fmt.Errorf("no access unit in %s", b.path)
	}
	aus := make([]accessUnit, len(pics))
	for i, pic := range pics {
		aus[i] = accessUnit{data: pic.Planes[0], key: pic.KeyFrame}
	}

	w, h := d.Size()
	if w == 0 || h == 0 {
		w, h = defaultWidth, defaultHeight
	}
	meta := scrcpy.DeviceMeta{
		Name:    strings.TrimSuffix(filepath.Base(b.path), filepath.Ext(b.path)),
		CodecID: b.codec,
		Width:   uint32(w),
		Height:  uint32(h),
	}
	return aus, meta, nil
}

func (b *Bootstrapper) trailer() []byte {
	aud := []byte{0, 0, 0, 1, 0x09, 0xF0}
	if b.codec == "h265" {
		aud = []byte{0, 0, 0, 1, 0x46, 0x01, 0x50}
	}
	return append(aud, 0, 0, 0, 1)
}

func (b *Bootstrapper) Bootstrap(ctx context.Context, p session.Params) error {
	aus, meta, err := b.load()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", p.Port)
	var dialer net.Dialer
	video, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial video: %w", err)
	}
	control, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		video.Close()
		return fmt.Errorf("dial control: %w", err)
	}
	if _, err := video.Write(scrcpy.EncodeHandshake(meta)); err != nil {
		video.Close()
		control.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	b.mu.Lock()
	b.video, b.control = video, control
	b.quit = make(chan struct{})
	b.keyframe = make(chan struct{}, 1)
	quit, keyframe := b.quit, b.keyframe
	b.mu.Unlock()

	b.log.Info().Str("file", b.path).Int("units", len(aus)).Int("fps", b.fps).Msg("replaying")
	b.wg.Add(2)
	go b.play(video, aus, p.FrameMeta, quit, keyframe)
	go b.serveControl(control, keyframe)
	return nil
}

func (b *Bootstrapper) play(w io.Writer, aus []accessUnit, framed bool, quit <-chan struct{}, keyframe <-chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(b.fps))
	defer ticker.Stop()
	start := time.Now()

	for i := 0; ; i = (i + 1) % len(aus) {
		select {
		case <-quit:
			return
		case <-keyframe:
			// skip ahead to the next keyframe, the way the encoder
			// restarts on RESET_VIDEO
			for j := 1; j <= len(aus); j++ {
				if k := (i + j - 1) % len(aus); aus[k].key {
					i = k
					break
				}
			}
		case <-ticker.C:
		}

		au := aus[i]
		var err error
		if framed {
			header := scrcpy.FrameHeader{
				PTS:        uint64(time.Since(start) / time.Microsecond),
				IsKeyFrame: au.key,
				Size:       uint32(len(au.data)),
			}
			_, err = w.Write(append(scrcpy.EncodeFrameHeader(header), au.data...))
		} else {
			_, err = w.Write(au.data)
		}
		if err != nil {
			b.log.Debug().Err(err).Msg("video socket closed")
			return
		}
	}
}

// serveControl answers control messages like the server does for the
// clipboard, and turns RESET_VIDEO into a keyframe.
func (b *Bootstrapper) serveControl(conn net.Conn, keyframe chan<- struct{}) {
	defer b.wg.Done()
	for {
		msg, err := scrcpy.ReadControlMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				b.log.Debug().Err(err).Msg("control socket")
			}
			return
		}
		switch msg[0] {
		case scrcpy.TYPE_RESET_VIDEO:
			select {
			case keyframe <- struct{}{}:
			default:
			}
		case scrcpy.TYPE_SET_CLIPBOARD:
			seq, text, _ := scrcpy.ClipboardText(msg)
			b.mu.Lock()
			b.clipboard = text
			b.mu.Unlock()
			// sequence 0 asks for no acknowledgement
			if seq != 0 {
				if _, err := conn.Write(scrcpy.EncodeAckClipboard(seq)); err != nil {
					return
				}
			}
		case scrcpy.TYPE_GET_CLIPBOARD:
			b.mu.Lock()
			text := b.clipboard
			b.mu.Unlock()
			if _, err := conn.Write(scrcpy.EncodeClipboardMessage(text)); err != nil {
				return
			}
		default:
			b.log.Debug().Uint8("type", msg[0]).Int("size", len(msg)).Msg("control message")
		}
	}
}

func (b *Bootstrapper) Close() error {
	b.mu.Lock()
	video, control, quit := b.video, b.control, b.quit
	b.video, b.control, b.quit = nil, nil, nil
	b.mu.Unlock()
	if quit == nil {
		return nil
	}
	close(quit)
	video.Close()
	control.Close()
	b.wg.Wait()
	return nil
}
