// Package config loads the daemon configuration: defaults, then an optional
// YAML file, then command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"mirrorcore/adb"
	"mirrorcore/relay"
	"mirrorcore/session"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTPConfig       `yaml:"http"`
	Log     LogConfig        `yaml:"log"`
	Session SessionConfig    `yaml:"session"`
	ADB     ADBConfig        `yaml:"adb"`
	Server  adb.ServerConfig `yaml:"server"`
	Relay   relay.Config     `yaml:"relay"`
	Replay  ReplayConfig     `yaml:"replay"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// PIN unlocks the API, an empty PIN disables authentication.
	PIN       string        `yaml:"pin"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Metrics   bool          `yaml:"metrics"`
}

type LogConfig struct {
	Debug   bool `yaml:"debug"`
	Console bool `yaml:"console"`
	// PionLevel is the zerolog level name for pion's own logs.
	PionLevel string `yaml:"pion_level"`
}

type SessionConfig struct {
	Params           session.Params `yaml:"params"`
	ConnectTimeout   time.Duration  `yaml:"connect_timeout"`
	KeyFrameInterval time.Duration  `yaml:"keyframe_interval"`
	// KeyMap is an optional YAML file of key code overrides.
	KeyMap string `yaml:"keymap"`
}

type ADBConfig struct {
	Path string `yaml:"path"`
	// Dir is searched for adb and receives platform-tools on download.
	Dir      string `yaml:"dir"`
	Download bool   `yaml:"download"`
}

// ReplayConfig replaces the device with a recorded stream when File is set.
type ReplayConfig struct {
	File string `yaml:"file"`
	FPS  int    `yaml:"fps"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:     ":8079",
			TokenTTL: 2 * time.Hour,
			Metrics:  true,
		},
		Log: LogConfig{Console: true, PionLevel: "warn"},
		Session: SessionConfig{
			Params: session.Params{
				Port:       27183,
				MaxSize:    720,
				BitRate:    8000000,
				VideoCodec: "h264",
				FrameMeta:  true,
			},
			ConnectTimeout:   10 * time.Second,
			KeyFrameInterval: 2 * time.Second,
		},
		ADB: ADBConfig{Dir: "./bin", Download: true},
		Server: adb.ServerConfig{
			LocalPath:  "./scrcpy-server-v3.3.3",
			RemotePath: "/data/local/tmp/scrcpy-server.jar",
			Version:    "3.3.3",
			LogLevel:   "info",
		},
		Relay: relay.Config{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
			UDPPortMin: 51200,
			UDPPortMax: 51299,
		},
		Replay: ReplayConfig{FPS: 30},
	}
}

// Load reads path over the defaults. A missing path is not an error when
// optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Flags binds the overridable fields to fs. Call it after Load so the file
// values become the flag defaults.
func (c *Config) Flags(fs *pflag.FlagSet) {
	fs.StringVar(&c.HTTP.Addr, "addr", c.HTTP.Addr, "HTTP listen address")
	fs.StringVar(&c.HTTP.PIN, "pin", c.HTTP.PIN, "PIN to unlock the API, empty disables auth")
	fs.BoolVar(&c.Log.Debug, "debug", c.Log.Debug, "debug logging")
	fs.BoolVar(&c.Log.Console, "console", c.Log.Console, "human readable logs")
	fs.StringVarP(&c.Session.Params.DeviceID, "serial", "s", c.Session.Params.DeviceID, "device serial")
	fs.IntVarP(&c.Session.Params.Port, "port", "p", c.Session.Params.Port, "local port the server connects to")
	fs.IntVarP(&c.Session.Params.MaxSize, "max-size", "m", c.Session.Params.MaxSize, "limit the larger screen dimension")
	fs.IntVarP(&c.Session.Params.BitRate, "bit-rate", "b", c.Session.Params.BitRate, "video bit rate")
	fs.IntVar(&c.Session.Params.MaxFPS, "max-fps", c.Session.Params.MaxFPS, "limit the frame rate")
	fs.StringVar(&c.Session.Params.VideoCodec, "video-codec", c.Session.Params.VideoCodec, "h264, h265 or av1")
	fs.StringVar(&c.Session.KeyMap, "keymap", c.Session.KeyMap, "key code override file")
	fs.StringVar(&c.ADB.Path, "adb", c.ADB.Path, "adb binary")
	fs.StringVar(&c.Server.LocalPath, "server", c.Server.LocalPath, "scrcpy server file")
	fs.StringVar(&c.Replay.File, "replay", c.Replay.File, "play an Annex-B recording instead of a device")
}

func (c Config) Validate() error {
	var errs []error
	p := c.Session.Params
	if p.Port < 0 || p.Port > 65535 {
		errs = append(errs, fmt.Errorf("session port out of range: %d", p.Port))
	}
	if p.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("negative max size: %d", p.MaxSize))
	}
	if p.BitRate < 0 {
		errs = append(errs, fmt.Errorf("negative bit rate: %d", p.BitRate))
	}
	switch p.VideoCodec {
	case "h264", "h265", "av1":
	default:
		errs = append(errs, fmt.Errorf("unsupported video codec: %q", p.VideoCodec))
	}
	if !p.FrameMeta && p.VideoCodec == "av1" {
		errs = append(errs, errors.New("av1 needs frame meta"))
	}
	if c.Server.Version == "" && c.Replay.File == "" {
		errs = append(errs, errors.New("server version is required"))
	}
	if c.Relay.UDPPortMax < c.Relay.UDPPortMin {
		errs = append(errs, errors.New("relay udp port range is inverted"))
	}
	return errors.Join(errs...)
}
