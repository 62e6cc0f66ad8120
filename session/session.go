// Package session ties the launcher, channel, decode pump, frame buffer and
// input translator into one mirroring session and owns its teardown.
package session

//go:generate mockgen -destination=mocks_test.go -package=session . Bootstrapper,Presenter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"mirrorcore/channel"
	"mirrorcore/decoder"
	"mirrorcore/framebuffer"
	"mirrorcore/input"
	"mirrorcore/scrcpy"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultKeyFrameInterval = 2 * time.Second

// FrameSource is handed to the presenter with every ready notification.
type FrameSource interface {
	ConsumeLatest() (*framebuffer.Frame, bool)
	Recycle(*framebuffer.Frame)
}

// Presenter is the consumer side. OnFrameReady must not block on network
// or decode; it is expected to call ConsumeLatest. It is never called once
// OnSessionEnded has been, so it must not call Stop itself.
type Presenter interface {
	OnFrameReady(src FrameSource)
	OnSessionEnded(err error)
	SurfaceSize() input.Size
}

type StreamObserver interface {
	OnStreaming(meta scrcpy.DeviceMeta)
}

type CaptureObserver interface {
	OnInputCapture(active bool)
}

type ClipboardObserver interface {
	OnClipboard(text string)
}

type Config struct {
	Params Params
	// ListenAddr defaults to 127.0.0.1 on Params.Port.
	ListenAddr       string
	ConnectTimeout   time.Duration
	KeyFrameInterval time.Duration
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.baseLog = l }
}

func WithKeyMap(m input.KeyMap) Option {
	return func(s *Session) { s.keys = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

type Session struct {
	id        string
	cfg       Config
	boot      Bootstrapper
	dec       decoder.Decoder
	presenter Presenter
	baseLog   zerolog.Logger
	scoped    zerolog.Logger
	log       zerolog.Logger
	keys      input.KeyMap
	now       func() time.Time

	state    stateCell
	ch       *channel.Channel
	buf      *framebuffer.Buffer
	input    *input.Translator
	launcher *Launcher

	mu     sync.Mutex
	cancel context.CancelFunc
	pump   *decoder.Pump
	frames sync.WaitGroup

	meta         atomic.Pointer[scrcpy.DeviceMeta]
	lastKeyFrame atomic.Int64

	started  atomic.Bool
	stopping atomic.Bool
	launched chan struct{}
	quit     chan struct{}
	done     chan struct{}
	err      error
}

func New(cfg Config, boot Bootstrapper, dec decoder.Decoder, p Presenter, opts ...Option) *Session {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf("127.0.0.1:%d", cfg.Params.Port)
	}
	if cfg.KeyFrameInterval <= 0 {
		cfg.KeyFrameInterval = defaultKeyFrameInterval
	}
	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		boot:      boot,
		dec:       dec,
		presenter: p,
		baseLog:   zerolog.Nop(),
		now:       time.Now,
		buf:       framebuffer.New(),
		launched:  make(chan struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	// components add their own mod field to the session-scoped logger
	s.scoped = s.baseLog.With().Str("session", s.id).Logger()
	scoped := s.scoped
	s.log = scoped.With().Str("mod", "session").Logger()

	s.ch = channel.New(channel.Config{
		Addr:      cfg.ListenAddr,
		FrameMeta: cfg.Params.FrameMeta,
	}, channel.WithLogger(scoped))

	inputOpts := []input.Option{
		input.WithLogger(scoped),
		input.WithCaptureHandler(s.onCapture),
	}
	if s.keys != nil {
		inputOpts = append(inputOpts, input.WithKeyMap(s.keys))
	}
	s.input = input.New(s.ch, p, inputOpts...)
	s.launcher = newLauncher(boot, s.ch, &s.state, scoped.With().Str("mod", "launcher").Logger())
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state.Load() }

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the cause of the end, valid after Done. It is nil after Stop.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Addr is the local endpoint the server connects to, nil before launch.
func (s *Session) Addr() net.Addr { return s.ch.Addr() }

// Meta returns the handshake data once streaming.
func (s *Session) Meta() (scrcpy.DeviceMeta, bool) {
	m := s.meta.Load()
	if m == nil {
		return scrcpy.DeviceMeta{}, false
	}
	return *m, true
}

func (s *Session) FrameStats() framebuffer.Stats { return s.buf.Stats() }

func (s *Session) InputStats() input.Stats { return s.input.Stats() }

func (s *Session) DecodeErrors() uint64 {
	s.mu.Lock()
	pump := s.pump
	s.mu.Unlock()
	if pump == nil {
		return 0
	}
	return pump.DecodeErrors()
}

// Start launches the session in the background and returns at once. The
// outcome is reported through the presenter.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		close(s.launched)
		return ErrStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	// only the launch is bounded, the stream is not
	launchCtx, launchCancel := runCtx, context.CancelFunc(func() {})
	if s.cfg.ConnectTimeout > 0 {
		launchCtx, launchCancel = context.WithTimeout(runCtx, s.cfg.ConnectTimeout)
	}
	results := s.launcher.Launch(launchCtx, s.cfg.Params)
	go func() {
		defer launchCancel()
		s.supervise(results)
	}()
	return nil
}

// Stop tears the session down and returns once it has ended. It can be
// called from any goroutine, any number of times, in any state.
func (s *Session) Stop() {
	s.shutdown(nil)
	<-s.done
}

func (s *Session) supervise(results <-chan LaunchResult) {
	res := <-results
	close(s.launched)
	if res.Err != nil {
		s.shutdown(res.Err)
		return
	}
	s.onStreaming(res.Meta)
}

func (s *Session) onStreaming(meta scrcpy.DeviceMeta) {
	s.meta.Store(&meta)
	size := input.Size{Width: int(meta.Width), Height: int(meta.Height)}

	pump := decoder.NewPump(s.ch, s.dec, s.buf,
		decoder.WithPumpLogger(s.scoped),
		decoder.WithFrameSize(size.Width, size.Height))

	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		return
	}
	s.pump = pump
	s.input.Activate(size)
	pump.Start()
	s.frames.Add(1)
	s.mu.Unlock()

	go s.watch(pump)
	go s.notifyFrames()
	go s.forwardDeviceMessages()

	if obs, ok := s.presenter.(StreamObserver); ok {
		obs.OnStreaming(meta)
	}
}

// watch funnels the asynchronous end conditions into shutdown.
func (s *Session) watch(pump *decoder.Pump) {
	select {
	case <-s.ch.Done():
		s.shutdown(s.ch.Err())
	case <-pump.Done():
		err := pump.Err()
		if err == nil {
			err = channel.ErrChannelClosed
		}
		s.shutdown(err)
	case <-s.quit:
	}
}

func (s *Session) notifyFrames() {
	defer s.frames.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.buf.Ready():
		}
		// both cases may be ready at once
		select {
		case <-s.quit:
			return
		default:
		}
		s.presenter.OnFrameReady(s)
	}
}

func (s *Session) forwardDeviceMessages() {
	obs, _ := s.presenter.(ClipboardObserver)
	for msg := range s.ch.DeviceMessages() {
		switch msg.Type {
		case scrcpy.DEVICE_MSG_TYPE_CLIPBOARD:
			if obs != nil {
				obs.OnClipboard(msg.Text)
			}
		case scrcpy.DEVICE_MSG_TYPE_ACK_CLIPBOARD:
			s.log.Debug().Uint64("sequence", msg.Sequence).Msg("clipboard acknowledged")
		default:
			s.log.Debug().Uint8("type", msg.Type).Msg("device message ignored")
		}
	}
}

func (s *Session) onCapture(active bool) {
	if obs, ok := s.presenter.(CaptureObserver); ok {
		obs.OnInputCapture(active)
	}
}

// shutdown runs the teardown once, for whichever caller gets here first.
func (s *Session) shutdown(cause error) {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	prev := s.state.beginStop()
	close(s.quit)
	if cause != nil {
		s.log.Info().Err(cause).Str("state", prev.String()).Msg("session ending")
	} else {
		s.log.Info().Str("state", prev.String()).Msg("session stopping")
	}

	s.mu.Lock()
	cancel, pump := s.cancel, s.pump
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pump != nil {
		pump.Stop()
	}
	if err := s.ch.Disconnect(); err != nil {
		s.log.Debug().Err(err).Msg("disconnect")
	}
	if pump != nil {
		pump.Wait()
	} else if s.dec != nil {
		// the pump owns the decoder once started
		if err := s.dec.Close(); err != nil {
			s.log.Debug().Err(err).Msg("decoder close")
		}
	}
	s.input.Deactivate()
	s.frames.Wait()
	if s.started.Load() {
		// Bootstrap may still be running, cancel has been delivered
		<-s.launched
		if err := s.boot.Close(); err != nil {
			s.log.Warn().Err(err).Msg("bootstrap cleanup")
		}
	}

	if prev != Failed {
		s.state.Store(Stopped)
	}
	s.err = cause
	close(s.done)
	s.log.Info().Str("state", s.state.Load().String()).Msg("session ended")
	s.presenter.OnSessionEnded(cause)
}

// HandleInput forwards a local input event. Events before streaming or
// after the end are dropped.
func (s *Session) HandleInput(ev input.Event) {
	s.input.Handle(ev)
}

func (s *Session) Command(cmd input.Command) error {
	if s.State() != Streaming {
		return ErrNotStreaming
	}
	return s.input.Command(cmd)
}

// RequestKeyFrame asks the server to restart the encoder, at most once per
// KeyFrameInterval. It reports whether a request was sent.
func (s *Session) RequestKeyFrame() bool {
	if s.State() != Streaming {
		return false
	}
	now := s.now().UnixNano()
	last := s.lastKeyFrame.Load()
	if last != 0 && time.Duration(now-last) < s.cfg.KeyFrameInterval {
		return false
	}
	if !s.lastKeyFrame.CompareAndSwap(last, now) {
		return false
	}
	if err := s.input.Command(input.Command{Kind: input.CmdResetVideo}); err != nil {
		s.log.Warn().Err(err).Msg("keyframe request")
		return false
	}
	return true
}

// ConsumeLatest takes the newest frame. Input mapping follows the frame
// size, which changes when the device rotates.
func (s *Session) ConsumeLatest() (*framebuffer.Frame, bool) {
	f, ok := s.buf.ConsumeLatest()
	if !ok {
		return nil, false
	}
	size := input.Size{Width: f.Width, Height: f.Height}
	if !size.Empty() && size != s.input.RemoteSize() {
		s.input.SetRemoteSize(size)
		s.log.Info().Int("width", size.Width).Int("height", size.Height).Msg("frame size changed")
	}
	return f, true
}

func (s *Session) Recycle(f *framebuffer.Frame) {
	s.buf.Recycle(f)
}
