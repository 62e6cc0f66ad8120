// Package webservice is the HTTP face of the daemon: it starts and stops
// mirroring sessions, answers WebRTC offers for them, carries browser input
// over WebSocket and lists the adb devices that can be mirrored.
package webservice

//go:generate mockgen -destination=mocks_test.go -package=webservice . DeviceManager

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"sync"
	"time"

	"mirrorcore/adb"
	"mirrorcore/config"
	"mirrorcore/input"
	"mirrorcore/metrics"
	"mirrorcore/session"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// BootstrapFunc returns the collaborator that brings up the remote end of
// one session.
type BootstrapFunc func(p session.Params) session.Bootstrapper

// DeviceManager is the adb side of the device endpoints.
type DeviceManager interface {
	Devices(ctx context.Context) ([]adb.Device, error)
	Connect(ctx context.Context, address string) error
	Pair(ctx context.Context, address, code string) error
}

// DiscoverFunc browses the network for wireless debugging devices.
type DiscoverFunc func(ctx context.Context, service string) ([]adb.Device, error)

type Option func(*WebMaster)

func WithLogger(l zerolog.Logger) Option {
	return func(wm *WebMaster) { wm.root = l }
}

func WithDevices(d DeviceManager) Option {
	return func(wm *WebMaster) { wm.devices = d }
}

func WithDiscovery(fn DiscoverFunc) Option {
	return func(wm *WebMaster) { wm.discover = fn }
}

func WithKeyMap(m input.KeyMap) Option {
	return func(wm *WebMaster) { wm.keys = m }
}

func WithPionLogger(f logging.LoggerFactory) Option {
	return func(wm *WebMaster) { wm.pionLog = f }
}

type WebMaster struct {
	cfg      config.Config
	boot     BootstrapFunc
	root     zerolog.Logger
	log      zerolog.Logger
	devices  DeviceManager
	discover DiscoverFunc
	keys     input.KeyMap
	pionLog  logging.LoggerFactory

	jwtSecret []byte
	pin       string

	unlockMu             sync.Mutex
	UnlockAttemptRecords map[string]UnlockAttemptRecord

	mu       sync.RWMutex
	mirrors  map[string]*Mirror
	closed   bool
	registry *prometheus.Registry
	router   *gin.Engine
}

func New(cfg config.Config, boot BootstrapFunc, opts ...Option) (*WebMaster, error) {
	wm := &WebMaster{
		cfg:                  cfg,
		boot:                 boot,
		root:                 zerolog.Nop(),
		discover:             adb.Discover,
		pin:                  cfg.HTTP.PIN,
		UnlockAttemptRecords: make(map[string]UnlockAttemptRecord),
		mirrors:              make(map[string]*Mirror),
	}
	for _, opt := range opts {
		opt(wm)
	}
	wm.log = wm.root.With().Str("mod", "web").Logger()

	wm.jwtSecret = []byte(cfg.HTTP.JWTSecret)
	if len(wm.jwtSecret) == 0 {
		// tokens do not survive a restart without a configured secret
		wm.jwtSecret = make([]byte, 32)
		if _, err := rand.Read(wm.jwtSecret); err != nil {
			return nil, err
		}
	}

	if cfg.HTTP.Metrics {
		wm.registry = prometheus.NewRegistry()
		if err := wm.registry.Register(metrics.NewCollector(wm.metricSources)); err != nil {
			return nil, err
		}
	}
	wm.router = wm.routes()
	return wm, nil
}

func (wm *WebMaster) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), wm.accessLog())

	if wm.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(wm.registry, promhttp.HandlerOpts{})))
	}
	r.POST("/api/unlock", wm.handleUnlock)

	api := r.Group("/api")
	if wm.pin != "" {
		api.Use(wm.HybridAuthMiddleware())
	}
	api.GET("/devices", wm.handleListDevices)
	api.GET("/devices/discover", wm.handleDiscoverDevices)
	api.POST("/devices/connect", wm.handleConnectDevice)
	api.POST("/devices/pair", wm.handlePairDevice)

	api.GET("/sessions", wm.handleListSessions)
	api.POST("/sessions", wm.handleStartSession)
	api.GET("/sessions/:id", wm.handleGetSession)
	api.DELETE("/sessions/:id", wm.handleStopSession)
	api.POST("/sessions/:id/offer", wm.handleOffer)
	api.DELETE("/sessions/:id/peers/:peer", wm.handleClosePeer)
	api.POST("/sessions/:id/command", wm.handleCommand)
	api.GET("/sessions/:id/ws", wm.handleScreenWS)
	return r
}

func (wm *WebMaster) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		wm.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (wm *WebMaster) Handler() http.Handler { return wm.router }

// Serve runs the HTTP server until ctx is done, then stops every session.
func (wm *WebMaster) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: wm.cfg.HTTP.Addr, Handler: wm.router}
	errc := make(chan error, 1)
	go func() {
		wm.log.Info().Str("addr", wm.cfg.HTTP.Addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = srv.Shutdown(shutdownCtx)
		cancel()
	}
	wm.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops every session and refuses new ones.
func (wm *WebMaster) Close() {
	wm.mu.Lock()
	wm.closed = true
	mirrors := make([]*Mirror, 0, len(wm.mirrors))
	for _, m := range wm.mirrors {
		mirrors = append(mirrors, m)
	}
	wm.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range mirrors {
		wg.Add(1)
		go func(m *Mirror) {
			defer wg.Done()
			m.Session.Stop()
		}(m)
	}
	wg.Wait()
}

func (wm *WebMaster) metricSources() []metrics.Source {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	sources := make([]metrics.Source, 0, len(wm.mirrors))
	for _, m := range wm.mirrors {
		sources = append(sources, m.Session)
	}
	return sources
}
