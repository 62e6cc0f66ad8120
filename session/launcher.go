package session

import (
	"context"
	"net"

	"mirrorcore/channel"
	"mirrorcore/scrcpy"

	"github.com/rs/zerolog"
)

// Bootstrapper prepares the remote endpoint: pushes and starts the server
// and sets up the tunnel that leads back to the channel's listener.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, p Params) error
	// Close undoes what Bootstrap did. It is called once per started
	// session, whether or not Bootstrap ran or succeeded.
	Close() error
}

type Params struct {
	// DeviceID empty means the only attached device.
	DeviceID string `json:"device_id" yaml:"device_id"`
	// Port is the local port the server reaches through the tunnel. The
	// launcher overwrites it with the bound port.
	Port int `json:"port" yaml:"port"`
	// MaxSize caps the larger screen dimension, 0 keeps the native size.
	MaxSize    int      `json:"max_size" yaml:"max_size"`
	BitRate    int      `json:"bit_rate" yaml:"bit_rate"`
	MaxFPS     int      `json:"max_fps" yaml:"max_fps"`
	VideoCodec string   `json:"video_codec" yaml:"video_codec"`
	FrameMeta  bool     `json:"frame_meta" yaml:"frame_meta"`
	ExtraArgs  []string `json:"extra_args" yaml:"extra_args"`
	// SCID tells concurrent servers on one device apart, 0 picks one.
	SCID uint32 `json:"-" yaml:"-"`
}

func (p Params) ServerOptions(version string) scrcpy.ServerOptions {
	return scrcpy.ServerOptions{
		Version:       version,
		SCID:          p.SCID,
		MaxSize:       p.MaxSize,
		VideoBitRate:  p.BitRate,
		MaxFPS:        p.MaxFPS,
		VideoCodec:    p.VideoCodec,
		SendFrameMeta: p.FrameMeta,
		Extra:         p.ExtraArgs,
	}
}

type LaunchResult struct {
	Meta scrcpy.DeviceMeta
	Err  error
}

// Launcher walks Idle, Launching, Connecting and Streaming. It gives up on
// the first failure, there is no retry.
type Launcher struct {
	boot  Bootstrapper
	ch    *channel.Channel
	state *stateCell
	log   zerolog.Logger
}

func newLauncher(boot Bootstrapper, ch *channel.Channel, state *stateCell, log zerolog.Logger) *Launcher {
	return &Launcher{boot: boot, ch: ch, state: state, log: log}
}

// Launch delivers exactly one result, then closes the returned channel.
func (l *Launcher) Launch(ctx context.Context, p Params) <-chan LaunchResult {
	out := make(chan LaunchResult, 1)
	go func() {
		defer close(out)
		meta, err := l.run(ctx, p)
		out <- LaunchResult{Meta: meta, Err: err}
	}()
	return out
}

func (l *Launcher) run(ctx context.Context, p Params) (scrcpy.DeviceMeta, error) {
	if !l.state.CompareAndSwap(Idle, Launching) {
		return scrcpy.DeviceMeta{}, ErrStopped
	}

	if err := l.ch.Listen(); err != nil {
		return l.fail(Launching, err)
	}
	if addr, ok := l.ch.Addr().(*net.TCPAddr); ok {
		p.Port = addr.Port
	}
	if p.SCID == 0 {
		p.SCID = scrcpy.GenerateSCID()
	}
	l.log.Info().Str("device", p.DeviceID).Int("port", p.Port).Msg("bootstrapping server")
	if err := l.boot.Bootstrap(ctx, p); err != nil {
		return l.fail(Launching, &BootstrapError{Device: p.DeviceID, Err: err})
	}

	if !l.state.CompareAndSwap(Launching, Connecting) {
		return scrcpy.DeviceMeta{}, ErrStopped
	}
	meta, err := l.ch.Connect(ctx)
	if err != nil {
		return l.fail(Connecting, err)
	}

	if !l.state.CompareAndSwap(Connecting, Streaming) {
		return scrcpy.DeviceMeta{}, ErrStopped
	}
	l.log.Info().
		Str("name", meta.Name).
		Uint32("width", meta.Width).
		Uint32("height", meta.Height).
		Msg("streaming")
	return meta, nil
}

func (l *Launcher) fail(from State, err error) (scrcpy.DeviceMeta, error) {
	if !l.state.CompareAndSwap(from, Failed) {
		l.log.Debug().Err(err).Msg("launch interrupted")
		return scrcpy.DeviceMeta{}, ErrStopped
	}
	l.log.Error().Err(err).Str("state", from.String()).Msg("launch failed")
	return scrcpy.DeviceMeta{}, err
}
