package decoder

import (
	"errors"
	"sync"
	"sync/atomic"

	"mirrorcore/framebuffer"
	"mirrorcore/scrcpy"

	"github.com/rs/zerolog"
)

// Source is the blocking media pull, satisfied by *channel.Channel.
type Source interface {
	NextMediaChunk() (scrcpy.MediaChunk, error)
}

type PumpOption func(*Pump)

func WithPumpLogger(l zerolog.Logger) PumpOption {
	return func(p *Pump) { p.log = l.With().Str("mod", "pump").Logger() }
}

// WithFrameSize is used for pictures whose decoder did not know their size.
func WithFrameSize(width, height int) PumpOption {
	return func(p *Pump) { p.width, p.height = width, height }
}

// Pump runs the decode loop on its own goroutine. It never blocks on the
// consumer: frames go through the buffer's latest-wins slot.
type Pump struct {
	src Source
	dec Decoder
	buf *framebuffer.Buffer
	log zerolog.Logger

	width, height int

	started   atomic.Bool
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	err       error

	decodeErrors atomic.Uint64
}

func NewPump(src Source, dec Decoder, buf *framebuffer.Buffer, opts ...PumpOption) *Pump {
	p := &Pump{
		src:  src,
		dec:  dec,
		buf:  buf,
		log:  zerolog.Nop(),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pump) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.run()
	})
}

// Stop asks the loop to exit. A loop blocked in NextMediaChunk only returns
// once the source is closed, which is the caller's job.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
}

// Wait joins the loop. It returns at once if Start was never called.
func (p *Pump) Wait() {
	if !p.started.Load() {
		return
	}
	<-p.done
}

// Done is closed exactly once when the loop has exited.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Err is valid after Done: nil if stopped on request, the source error on
// end of stream, or a *DecodeError if the decoder gave up.
func (p *Pump) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Pump) DecodeErrors() uint64 {
	return p.decodeErrors.Load()
}

func (p *Pump) stopping() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

func (p *Pump) run() {
	defer close(p.done)
	defer func() {
		if err := p.dec.Close(); err != nil {
			p.log.Debug().Err(err).Msg("decoder close")
		}
	}()

	for !p.stopping() {
		chunk, err := p.src.NextMediaChunk()
		if err != nil {
			if !p.stopping() {
				p.err = err
				p.log.Info().Err(err).Msg("media stream ended")
			}
			return
		}

		pics, err := p.dec.Decode(chunk)
		if err != nil {
			if errors.Is(err, ErrUnrecoverable) {
				p.err = &DecodeError{Err: err}
				p.log.Error().Err(err).Msg("decoder failed")
				return
			}
			n := p.decodeErrors.Add(1)
			p.log.Debug().Err(err).Uint64("count", n).Msg("chunk dropped")
			continue
		}
		for i := range pics {
			if p.stopping() {
				return
			}
			p.publish(&pics[i])
		}
	}
}

func (p *Pump) publish(pic *Picture) {
	f, err := p.buf.BeginWrite()
	if err != nil {
		p.log.Warn().Err(err).Msg("frame slot busy")
		return
	}
	if len(pic.Planes) == 0 {
		p.buf.Abort(f)
		return
	}
	for i, plane := range pic.Planes {
		copy(f.Plane(i, len(plane)), plane)
		stride := len(plane)
		if i < len(pic.Strides) {
			stride = pic.Strides[i]
		}
		f.Strides[i] = stride
	}
	f.SetPlaneCount(len(pic.Planes))
	f.Width, f.Height = pic.Width, pic.Height
	if f.Width == 0 || f.Height == 0 {
		f.Width, f.Height = p.width, p.height
	}
	f.PTS = pic.PTS
	f.KeyFrame = pic.KeyFrame
	if err := p.buf.Commit(f); err != nil {
		p.log.Warn().Err(err).Msg("commit")
	}
}
