// Package adb drives the adb binary: device listing and pairing, and the
// push/reverse/app_process sequence that starts the scrcpy server.
package adb

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

type Option func(*Client)

func WithExecutor(e Executor) Option {
	return func(c *Client) { c.exec = e }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l.With().Str("mod", "adb").Logger() }
}

// Client runs adb against one device. An empty Serial means the only
// attached device.
type Client struct {
	Path   string
	Serial string

	exec Executor
	log  zerolog.Logger
}

func NewClient(path, serial string, opts ...Option) *Client {
	if path == "" {
		path = "adb"
	}
	c := &Client{Path: path, Serial: serial, exec: execExecutor{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) args(args ...string) []string {
	if c.Serial == "" {
		return args
	}
	return append([]string{"-s", c.Serial}, args...)
}

func (c *Client) Run(ctx context.Context, args ...string) ([]byte, error) {
	full := c.args(args...)
	c.log.Debug().Strs("args", full).Msg("adb")
	return c.exec.Output(ctx, c.Path, full...)
}

func (c *Client) Shell(ctx context.Context, cmd string) ([]byte, error) {
	return c.Run(ctx, "shell", cmd)
}

func (c *Client) Push(ctx context.Context, local, remote string) error {
	if _, err := c.Run(ctx, "push", local, remote); err != nil {
		return fmt.Errorf("adb push: %w", err)
	}
	return nil
}

// Reverse makes the device's remote socket reach local, for example
// localabstract:scrcpy_1234abcd to tcp:27183.
func (c *Client) Reverse(ctx context.Context, remote, local string) error {
	if _, err := c.Run(ctx, "reverse", remote, local); err != nil {
		return fmt.Errorf("adb reverse: %w", err)
	}
	return nil
}

func (c *Client) ReverseRemove(ctx context.Context, remote string) error {
	if _, err := c.Run(ctx, "reverse", "--remove", remote); err != nil {
		return fmt.Errorf("adb reverse --remove: %w", err)
	}
	return nil
}

// StartShell runs a shell command that keeps running, its output goes to w.
func (c *Client) StartShell(w io.Writer, cmd string) (Process, error) {
	full := c.args("shell", cmd)
	c.log.Debug().Strs("args", full).Msg("adb start")
	return c.exec.Start(w, c.Path, full...)
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	out, err := c.exec.Output(ctx, c.Path, "devices")
	if err != nil {
		return nil, err
	}
	return ParseDevices(string(out)), nil
}

// Connect attaches a device over TCP/IP. adb exits 0 on some failures, so
// the output is checked too.
func (c *Client) Connect(ctx context.Context, address string) error {
	out, err := c.exec.Output(ctx, c.Path, "connect", address)
	if err != nil {
		return fmt.Errorf("adb connect: %w", err)
	}
	s := string(out)
	if strings.Contains(s, "unable to connect") || strings.Contains(s, "failed to connect") {
		return fmt.Errorf("adb connect: %s", strings.TrimSpace(s))
	}
	return nil
}

func (c *Client) Pair(ctx context.Context, address, code string) error {
	out, err := c.exec.Output(ctx, c.Path, "pair", address, code)
	if err != nil {
		return fmt.Errorf("adb pair: %w", err)
	}
	if !strings.Contains(string(out), "Successfully paired") {
		return fmt.Errorf("adb pair: %s", strings.TrimSpace(string(out)))
	}
	return nil
}
