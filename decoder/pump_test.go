package decoder

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"mirrorcore/framebuffer"
	"mirrorcore/scrcpy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	chunks []scrcpy.MediaChunk
	end    error
	block  chan struct{}
}

func (s *scriptedSource) NextMediaChunk() (scrcpy.MediaChunk, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return c, nil
	}
	if s.block != nil {
		<-s.block
	}
	return scrcpy.MediaChunk{}, s.end
}

type funcDecoder struct {
	fn     func(scrcpy.MediaChunk) ([]Picture, error)
	closed atomic.Bool
}

func (d *funcDecoder) Decode(c scrcpy.MediaChunk) ([]Picture, error) { return d.fn(c) }

func (d *funcDecoder) Close() error {
	d.closed.Store(true)
	return nil
}

// echoDecoder turns every chunk into one picture stamped with the chunk PTS.
func echoDecoder() *funcDecoder {
	return &funcDecoder{fn: func(c scrcpy.MediaChunk) ([]Picture, error) {
		if len(c.Data) == 0 {
			return nil, errors.New("bad chunk")
		}
		return []Picture{{Planes: [][]byte{c.Data}, PTS: c.PTS}}, nil
	}}
}

func chunks(n int) []scrcpy.MediaChunk {
	out := make([]scrcpy.MediaChunk, n)
	for i := range out {
		out[i] = scrcpy.MediaChunk{Data: []byte{byte(i)}, PTS: time.Duration(i) * time.Millisecond, HasPTS: true}
	}
	return out
}

func waitDone(t *testing.T, p *Pump) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestPumpEndOfStream(t *testing.T) {
	src := &scriptedSource{chunks: chunks(3), end: io.EOF}
	dec := echoDecoder()
	buf := framebuffer.New()
	p := NewPump(src, dec, buf, WithFrameSize(720, 1280))
	p.Start()
	waitDone(t, p)

	assert.ErrorIs(t, p.Err(), io.EOF)
	assert.True(t, dec.closed.Load())
	assert.Equal(t, uint64(3), buf.Stats().Committed)

	f, ok := buf.ConsumeLatest()
	require.True(t, ok)
	assert.Equal(t, 2*time.Millisecond, f.PTS)
	assert.Equal(t, []byte{2}, f.Planes[0])
	assert.Equal(t, 720, f.Width)
	assert.Equal(t, 1280, f.Height)
	assert.Equal(t, 1, f.Strides[0])
}

func TestPumpSkipsBadChunks(t *testing.T) {
	cs := chunks(4)
	cs[1].Data = nil
	src := &scriptedSource{chunks: cs, end: io.EOF}
	buf := framebuffer.New()
	p := NewPump(src, echoDecoder(), buf)
	p.Start()
	waitDone(t, p)

	assert.Equal(t, uint64(1), p.DecodeErrors())
	assert.Equal(t, uint64(3), buf.Stats().Committed)
}

func TestPumpUnrecoverableDecoder(t *testing.T) {
	src := &scriptedSource{chunks: chunks(5), end: io.EOF}
	dec := &funcDecoder{fn: func(c scrcpy.MediaChunk) ([]Picture, error) {
		if c.Data[0] == 2 {
			return nil, fmt.Errorf("%w: codec lost", ErrUnrecoverable)
		}
		return []Picture{{Planes: [][]byte{c.Data}}}, nil
	}}
	buf := framebuffer.New()
	p := NewPump(src, dec, buf)
	p.Start()
	waitDone(t, p)

	var de *DecodeError
	require.True(t, errors.As(p.Err(), &de))
	assert.ErrorIs(t, p.Err(), ErrUnrecoverable)
	assert.Equal(t, uint64(2), buf.Stats().Committed)
	assert.True(t, dec.closed.Load())
}

func TestPumpStopWhileBlocked(t *testing.T) {
	src := &scriptedSource{end: io.ErrClosedPipe, block: make(chan struct{})}
	p := NewPump(src, echoDecoder(), framebuffer.New())
	p.Start()

	p.Stop()
	p.Stop()
	// closing the source is what releases the blocked read
	close(src.block)
	p.Wait()
	waitDone(t, p)
	assert.NoError(t, p.Err())
}

func TestPumpWaitWithoutStart(t *testing.T) {
	p := NewPump(&scriptedSource{end: io.EOF}, echoDecoder(), framebuffer.New())
	p.Stop()
	p.Wait()
	assert.NoError(t, p.Err())
}

func TestPumpDecodesAnnexBStream(t *testing.T) {
	src := &scriptedSource{
		chunks: []scrcpy.MediaChunk{
			{Data: annexB(baselineSPS(), ppsNAL), IsConfig: true},
			{Data: annexB(idrNAL), PTS: time.Millisecond, HasPTS: true, IsKeyFrame: true},
		},
		end: io.EOF,
	}
	buf := framebuffer.New()
	p := NewPump(src, NewAnnexB("h264", true), buf)
	p.Start()
	waitDone(t, p)

	f, ok := buf.ConsumeLatest()
	require.True(t, ok)
	assert.True(t, f.KeyFrame)
	assert.Equal(t, 1080, f.Width)
	assert.Equal(t, 1920, f.Height)
	assert.Equal(t, annexB(baselineSPS(), ppsNAL, idrNAL), f.Planes[0])
}
