package webservice

import (
	"context"
	"errors"
	"fmt"

	"mirrorcore/decoder"
	"mirrorcore/framebuffer"
	"mirrorcore/input"
	"mirrorcore/relay"
	"mirrorcore/scrcpy"
	"mirrorcore/session"
)

var (
	ErrClosed          = errors.New("web service closed")
	ErrSessionNotFound = errors.New("session not found")
)

// Mirror is one session together with the relay presenting it.
type Mirror struct {
	Session *session.Session
	Relay   *relay.Relay
	Params  session.Params
}

type MirrorView struct {
	ID     string             `json:"id"`
	State  session.State      `json:"state"`
	Params session.Params     `json:"params"`
	Meta   *scrcpy.DeviceMeta `json:"meta,omitempty"`
	Peers  int                `json:"peers"`
	Frames framebuffer.Stats  `json:"frames"`
	Input  input.Stats        `json:"input"`
	Error  string             `json:"error,omitempty"`
}

func (m *Mirror) View() MirrorView {
	v := MirrorView{
		ID:     m.Session.ID(),
		State:  m.Session.State(),
		Params: m.Params,
		Peers:  m.Relay.PeerCount(),
		Frames: m.Session.FrameStats(),
		Input:  m.Session.InputStats(),
	}
	if meta, ok := m.Session.Meta(); ok {
		v.Meta = &meta
	}
	if err := m.Session.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

func validateParams(p session.Params) error {
	if _, err := relay.MimeType(p.VideoCodec); err != nil {
		return err
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("port out of range: %d", p.Port)
	}
	if p.MaxSize < 0 || p.BitRate < 0 || p.MaxFPS < 0 {
		return errors.New("negative size, bit rate or fps")
	}
	return nil
}

// startMirror builds the session and its relay and launches it. A second
// live session gets an ephemeral port so it cannot collide with the first.
func (wm *WebMaster) startMirror(p session.Params) (*Mirror, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	wm.mu.Lock()
	if wm.closed {
		wm.mu.Unlock()
		return nil, ErrClosed
	}
	for _, m := range wm.mirrors {
		if !m.Session.State().Terminal() {
			p.Port = 0
			break
		}
	}
	wm.mu.Unlock()

	track, err := relay.NewTrack(p.VideoCodec, p.DeviceID)
	if err != nil {
		return nil, err
	}
	relayOpts := []relay.Option{relay.WithLogger(wm.root)}
	if wm.pionLog != nil {
		relayOpts = append(relayOpts, relay.WithPionLogger(wm.pionLog))
	}
	rel := relay.New(wm.cfg.Relay, track, relayOpts...)

	dec := decoder.NewAnnexB(p.VideoCodec, p.FrameMeta, decoder.WithAnnexBLogger(wm.root))
	sessOpts := []session.Option{session.WithLogger(wm.root)}
	if wm.keys != nil {
		sessOpts = append(sessOpts, session.WithKeyMap(wm.keys))
	}
	s := session.New(session.Config{
		Params:           p,
		ConnectTimeout:   wm.cfg.Session.ConnectTimeout,
		KeyFrameInterval: wm.cfg.Session.KeyFrameInterval,
	}, wm.boot(p), dec, rel, sessOpts...)
	rel.Attach(s)

	m := &Mirror{Session: s, Relay: rel, Params: p}
	wm.mu.Lock()
	if wm.closed {
		wm.mu.Unlock()
		return nil, ErrClosed
	}
	wm.mirrors[s.ID()] = m
	wm.mu.Unlock()

	// the session outlives the request that started it
	if err := s.Start(context.Background()); err != nil {
		wm.removeMirror(s.ID())
		return nil, err
	}
	wm.log.Info().Str("session", s.ID()).Str("device", p.DeviceID).Msg("session started")
	return m, nil
}

func (wm *WebMaster) mirror(id string) (*Mirror, error) {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	m, ok := wm.mirrors[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m, nil
}

func (wm *WebMaster) listMirrors() []MirrorView {
	wm.mu.RLock()
	mirrors := make([]*Mirror, 0, len(wm.mirrors))
	for _, m := range wm.mirrors {
		mirrors = append(mirrors, m)
	}
	wm.mu.RUnlock()

	views := make([]MirrorView, 0, len(mirrors))
	for _, m := range mirrors {
		views = append(views, m.View())
	}
	return views
}

func (wm *WebMaster) removeMirror(id string) *Mirror {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	m := wm.mirrors[id]
	delete(wm.mirrors, id)
	return m
}

// stopMirror stops the session and forgets it. Ended sessions stay listed
// with their final state until stopped here.
func (wm *WebMaster) stopMirror(id string) (*Mirror, error) {
	m := wm.removeMirror(id)
	if m == nil {
		return nil, ErrSessionNotFound
	}
	m.Session.Stop()
	wm.log.Info().Str("session", id).Msg("session removed")
	return m, nil
}
