package adb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"mirrorcore/session"

	"github.com/rs/zerolog"
)

const cleanupTimeout = 5 * time.Second

// ServerConfig locates the scrcpy server and fixes its version.
type ServerConfig struct {
	LocalPath    string `yaml:"local_path"`
	RemotePath   string `yaml:"remote_path"`
	Version      string `yaml:"version"`
	LogLevel     string `yaml:"log_level"`
	CodecOptions string `yaml:"codec_options"`
}

// Bootstrapper starts a scrcpy server for one session: push the server,
// reverse its socket to the session's port, run it with app_process.
type Bootstrapper struct {
	adbPath string
	server  ServerConfig
	exec    Executor
	log     zerolog.Logger

	mu      sync.Mutex
	client  *Client
	reverse string
	proc    Process
}

type BootstrapOption func(*Bootstrapper)

func WithBootstrapExecutor(e Executor) BootstrapOption {
	return func(b *Bootstrapper) { b.exec = e }
}

func WithBootstrapLogger(l zerolog.Logger) BootstrapOption {
	return func(b *Bootstrapper) { b.log = l }
}

func NewBootstrapper(adbPath string, server ServerConfig, opts ...BootstrapOption) *Bootstrapper {
	b := &Bootstrapper{adbPath: adbPath, server: server, exec: execExecutor{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bootstrapper) Bootstrap(ctx context.Context, p session.Params) error {
	if p.Port <= 0 {
		return errors.New("no local port to reverse to")
	}
	client := NewClient(b.adbPath, p.DeviceID, WithExecutor(b.exec), WithLogger(b.log))
	opts := p.ServerOptions(b.server.Version)
	opts.LogLevel = b.server.LogLevel
	opts.VideoCodecOptions = b.server.CodecOptions

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()

	if err := client.Push(ctx, b.server.LocalPath, b.server.RemotePath); err != nil {
		return err
	}
	remote := "localabstract:" + opts.SocketName()
	if err := client.Reverse(ctx, remote, "tcp:"+strconv.Itoa(p.Port)); err != nil {
		return err
	}
	b.mu.Lock()
	b.reverse = remote
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	proc, err := client.StartShell(b.log.With().Str("mod", "scrcpy-server").Logger(), opts.ShellCommand(b.server.RemotePath))
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	b.mu.Lock()
	b.proc = proc
	b.mu.Unlock()

	go func() {
		<-proc.Done()
		if err := proc.Err(); err != nil {
			b.log.Debug().Err(err).Msg("server process exited")
		} else {
			b.log.Info().Msg("server process exited")
		}
	}()
	return nil
}

// Close kills the server and removes the reverse tunnel. It does nothing
// if Bootstrap never got that far.
func (b *Bootstrapper) Close() error {
	b.mu.Lock()
	client, remote, proc := b.client, b.reverse, b.proc
	b.client, b.reverse, b.proc = nil, "", nil
	b.mu.Unlock()

	var errs []error
	if proc != nil {
		errs = append(errs, proc.Stop())
	}
	if client != nil && remote != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		errs = append(errs, client.ReverseRemove(ctx, remote))
	}
	return errors.Join(errs...)
}
