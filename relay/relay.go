// Package relay presents a session to browsers: frames go out on a shared
// WebRTC video track, device feedback goes to subscribers, and input comes
// back over data channels.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"mirrorcore/input"
	"mirrorcore/scrcpy"
	"mirrorcore/session"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const (
	MAX_PEERS       = 4
	feedbackBacklog = 32
)

var (
	ErrTooManyPeers = errors.New("too many peers")
	ErrEnded        = errors.New("session ended")
)

// Target is what the relay drives: the session.
type Target interface {
	HandleInput(ev input.Event)
	RequestKeyFrame() bool
}

type Config struct {
	ICEServers []string `yaml:"ice_servers"`
	// UDPPortMin and UDPPortMax bound the ephemeral ICE ports when both are set.
	UDPPortMin uint16 `yaml:"udp_port_min"`
	UDPPortMax uint16 `yaml:"udp_port_max"`
}

// Feedback is a device or session event pushed to browsers.
type Feedback struct {
	Type   string             `json:"type"`
	Meta   *scrcpy.DeviceMeta `json:"meta,omitempty"`
	Text   string             `json:"text,omitempty"`
	Active bool               `json:"active,omitempty"`
	Error  string             `json:"error,omitempty"`
}

const (
	FeedbackStreaming = "streaming"
	FeedbackClipboard = "clipboard"
	FeedbackCapture   = "capture"
	FeedbackEnded     = "ended"
)

type Option func(*Relay)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) { r.log = l.With().Str("mod", "relay").Logger() }
}

// WithPionLogger sends the peer connections' own logs to f.
func WithPionLogger(f logging.LoggerFactory) Option {
	return func(r *Relay) { r.pionLog = f }
}

type peer struct {
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
}

// Relay implements session.Presenter along with the optional observers.
type Relay struct {
	cfg     Config
	track   *Track
	log     zerolog.Logger
	pionLog logging.LoggerFactory

	mu      sync.RWMutex
	target  Target
	peers   map[uint32]*peer
	nextID  uint32
	surface input.Size
	frame   input.Size
	subs    map[chan Feedback]struct{}
	ended   bool
}

var (
	_ session.Presenter         = (*Relay)(nil)
	_ session.StreamObserver    = (*Relay)(nil)
	_ session.CaptureObserver   = (*Relay)(nil)
	_ session.ClipboardObserver = (*Relay)(nil)
)

func New(cfg Config, track *Track, opts ...Option) *Relay {
	r := &Relay{
		cfg:   cfg,
		track: track,
		log:   zerolog.Nop(),
		peers: make(map[uint32]*peer),
		subs:  make(map[chan Feedback]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach binds the session the relay presents. Peers added before that get
// no input or keyframe feedback.
func (r *Relay) Attach(t Target) {
	r.mu.Lock()
	r.target = t
	r.mu.Unlock()
}

func (r *Relay) getTarget() Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.target
}

func (r *Relay) requestKeyFrame() {
	if t := r.getTarget(); t != nil && t.RequestKeyFrame() {
		r.log.Debug().Msg("keyframe requested")
	}
}

// SetSurfaceSize records the size of the browser's video element.
func (r *Relay) SetSurfaceSize(s input.Size) {
	r.mu.Lock()
	r.surface = s
	r.mu.Unlock()
}

// SurfaceSize falls back to the frame size, which maps input one to one.
func (r *Relay) SurfaceSize() input.Size {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.surface.Empty() {
		return r.frame
	}
	return r.surface
}

func (r *Relay) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Relay) OnFrameReady(src session.FrameSource) {
	f, ok := src.ConsumeLatest()
	if !ok {
		return
	}
	defer src.Recycle(f)
	r.mu.Lock()
	r.frame = input.Size{Width: f.Width, Height: f.Height}
	r.mu.Unlock()
	if err := r.track.WriteFrame(f); err != nil {
		r.log.Debug().Err(err).Uint64("seq", f.Seq).Msg("write frame")
	}
}

func (r *Relay) OnStreaming(meta scrcpy.DeviceMeta) {
	r.mu.Lock()
	r.frame = input.Size{Width: int(meta.Width), Height: int(meta.Height)}
	r.mu.Unlock()
	if mimeType, err := MimeType(meta.CodecID); err != nil || mimeType != r.track.MimeType() {
		r.log.Warn().Str("codec", meta.CodecID).Str("track", r.track.MimeType()).Msg("device codec does not match the track")
	}
	r.publish(Feedback{Type: FeedbackStreaming, Meta: &meta})
	// viewers that joined during the launch need a keyframe
	r.requestKeyFrame()
}

func (r *Relay) OnClipboard(text string) {
	r.publish(Feedback{Type: FeedbackClipboard, Text: text})
}

func (r *Relay) OnInputCapture(active bool) {
	r.publish(Feedback{Type: FeedbackCapture, Active: active})
}

// OnSessionEnded tells subscribers, then closes every peer and feed.
func (r *Relay) OnSessionEnded(err error) {
	fb := Feedback{Type: FeedbackEnded}
	if err != nil {
		fb.Error = err.Error()
	}
	r.publish(fb)

	r.mu.Lock()
	r.ended = true
	peers := r.peers
	r.peers = make(map[uint32]*peer)
	for ch := range r.subs {
		close(ch)
	}
	r.subs = make(map[chan Feedback]struct{})
	r.mu.Unlock()

	for _, p := range peers {
		p.pc.Close()
	}
}

// Subscribe returns a feed of Feedback. Slow readers lose events rather
// than stall the session. The feed closes when the session ends or cancel
// is called.
func (r *Relay) Subscribe() (<-chan Feedback, func()) {
	ch := make(chan Feedback, feedbackBacklog)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		close(ch)
		return ch, func() {}
	}
	r.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subs[ch]; ok {
				delete(r.subs, ch)
				close(ch)
			}
		})
	}
}

func (r *Relay) publish(fb Feedback) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs {
		select {
		case ch <- fb:
		default:
			r.log.Debug().Str("type", fb.Type).Msg("feedback dropped")
		}
	}
}

func (r *Relay) newAPI() (*webrtc.API, error) {
	m, err := newMediaEngine(r.track.MimeType())
	if err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	settingEngine := webrtc.SettingEngine{}
	if r.pionLog != nil {
		settingEngine.LoggerFactory = r.pionLog
	}
	if r.cfg.UDPPortMin > 0 && r.cfg.UDPPortMax >= r.cfg.UDPPortMin {
		if err := settingEngine.SetEphemeralUDPPortRange(r.cfg.UDPPortMin, r.cfg.UDPPortMax); err != nil {
			return nil, err
		}
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(settingEngine)), nil
}

// Answer adds a viewer for the browser's offer and returns the answer SDP
// with every ICE candidate in it.
func (r *Relay) Answer(offer string) (string, uint32, error) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return "", 0, ErrEnded
	}
	if len(r.peers) >= MAX_PEERS {
		r.mu.Unlock()
		return "", 0, ErrTooManyPeers
	}
	r.mu.Unlock()

	api, err := r.newAPI()
	if err != nil {
		return "", 0, err
	}
	var iceServers []webrtc.ICEServer
	if len(r.cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: r.cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return "", 0, fmt.Errorf("create peer connection: %w", err)
	}
	answer, sender, err := r.negotiate(pc, offer)
	if err != nil {
		pc.Close()
		return "", 0, err
	}

	r.mu.Lock()
	if r.ended || len(r.peers) >= MAX_PEERS {
		r.mu.Unlock()
		pc.Close()
		if r.ended {
			return "", 0, ErrEnded
		}
		return "", 0, ErrTooManyPeers
	}
	id := r.nextID
	r.nextID++
	r.peers[id] = &peer{pc: pc, sender: sender}
	r.mu.Unlock()

	log := r.log.With().Uint32("peer", id).Logger()
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("state", s.String()).Msg("peer connection state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			r.requestKeyFrame()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			r.removePeer(id)
		}
	})
	pc.OnDataChannel(func(d *webrtc.DataChannel) {
		log.Debug().Str("label", d.Label()).Msg("data channel")
		d.OnMessage(func(msg webrtc.DataChannelMessage) {
			r.handleInput(msg.Data)
		})
	})
	go HandleRTCP(sender, r.requestKeyFrame)
	return answer, id, nil
}

func (r *Relay) negotiate(pc *webrtc.PeerConnection, offer string) (string, *webrtc.RTPSender, error) {
	sender, err := pc.AddTrack(r.track.local)
	if err != nil {
		return "", nil, fmt.Errorf("add track: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", nil, fmt.Errorf("create answer: %w", err)
	}
	// wait for every candidate so no trickle ICE is needed
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", nil, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete
	return pc.LocalDescription().SDP, sender, nil
}

func (r *Relay) removePeer(id uint32) {
	r.mu.Lock()
	p, ok := r.peers[id]
	delete(r.peers, id)
	r.mu.Unlock()
	if ok {
		p.pc.Close()
	}
}

// ClosePeer drops one viewer.
func (r *Relay) ClosePeer(id uint32) bool {
	r.mu.RLock()
	_, ok := r.peers[id]
	r.mu.RUnlock()
	if ok {
		r.removePeer(id)
	}
	return ok
}

// handleInput decodes a JSON input event from a data channel.
func (r *Relay) handleInput(data []byte) {
	var ev input.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.log.Debug().Err(err).Msg("bad input message")
		return
	}
	if t := r.getTarget(); t != nil {
		t.HandleInput(ev)
	}
}
