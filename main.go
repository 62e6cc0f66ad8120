package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mirrorcore/adb"
	"mirrorcore/config"
	"mirrorcore/input"
	"mirrorcore/logger"
	"mirrorcore/replay"
	"mirrorcore/session"
	"mirrorcore/webservice"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const defaultConf = "mirrorcore.yaml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// confPath finds --conf ahead of the real parse so the file can provide
// the flag defaults.
func confPath(args []string) string {
	pre := pflag.NewFlagSet("pre", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	path := pre.StringP("conf", "c", defaultConf, "")
	_ = pre.Parse(args)
	return *path
}

func run(args []string) error {
	path := confPath(args)
	cfg, err := config.Load(path, path == defaultConf)
	if err != nil {
		return err
	}
	fs := pflag.NewFlagSet("mirrorcore", pflag.ContinueOnError)
	fs.StringP("conf", "c", defaultConf, "YAML config file")
	cfg.Flags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Log.Debug, cfg.Log.Console)
	pionLevel, err := zerolog.ParseLevel(cfg.Log.PionLevel)
	if err != nil {
		return fmt.Errorf("pion log level: %w", err)
	}

	keys := input.DefaultKeyMap()
	if cfg.Session.KeyMap != "" {
		if keys, err = input.LoadKeyMap(cfg.Session.KeyMap, keys); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []webservice.Option{
		webservice.WithLogger(log),
		webservice.WithKeyMap(keys),
		webservice.WithPionLogger(logger.NewPionFactory(log, pionLevel)),
	}
	boot, devices, err := backend(ctx, cfg, log)
	if err != nil {
		return err
	}
	if devices != nil {
		opts = append(opts, webservice.WithDevices(devices))
	}
	wm, err := webservice.New(cfg, boot, opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wm.Serve(gctx)
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	return g.Wait()
}

// backend picks what brings a session's server up: a recording when one
// is configured, adb otherwise.
func backend(ctx context.Context, cfg config.Config, log zerolog.Logger) (webservice.BootstrapFunc, webservice.DeviceManager, error) {
	if cfg.Replay.File != "" {
		log.Info().Str("file", cfg.Replay.File).Msg("replay mode, no device needed")
		return func(p session.Params) session.Bootstrapper {
			return replay.New(cfg.Replay.File,
				replay.WithFPS(cfg.Replay.FPS),
				replay.WithCodec(p.VideoCodec),
				replay.WithLogger(log))
		}, nil, nil
	}

	adbPath := cfg.ADB.Path
	if adbPath == "" {
		var err error
		if cfg.ADB.Download {
			adbPath, err = adb.LocateOrDownload(ctx, cfg.ADB.Dir)
		} else {
			adbPath, err = adb.Locate(cfg.ADB.Dir)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	log.Info().Str("adb", adbPath).Str("server", cfg.Server.LocalPath).Msg("using adb")
	boot := func(p session.Params) session.Bootstrapper {
		return adb.NewBootstrapper(adbPath, cfg.Server, adb.WithBootstrapLogger(log))
	}
	return boot, adb.NewClient(adbPath, "", adb.WithLogger(log)), nil
}
