// Package input converts local pointer and keyboard events into scrcpy
// control messages in device coordinates.
package input

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"mirrorcore/scrcpy"

	"github.com/rs/zerolog"
)

var ErrUnknownCommand = errors.New("unknown command")

// Sender delivers serialized control messages, satisfied by *channel.Channel.
type Sender interface {
	SendControl(msg []byte) error
}

// SurfaceSizer reports the current size of the local view in pixels.
type SurfaceSizer interface {
	SurfaceSize() Size
}

type Stats struct {
	Sent    uint64
	Dropped uint64
	Failed  uint64
}

type Option func(*Translator)

func WithKeyMap(m KeyMap) Option {
	return func(t *Translator) { t.keys = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Translator) { t.log = l.With().Str("mod", "input").Logger() }
}

// WithCaptureHandler is told when input capture turns on or off: on with a
// press inside the frame, off once nothing is held or focus is lost.
func WithCaptureHandler(fn func(active bool)) Option {
	return func(t *Translator) { t.onCapture = fn }
}

type Translator struct {
	sender    Sender
	surface   SurfaceSizer
	keys      KeyMap
	log       zerolog.Logger
	onCapture func(bool)

	// keeps messages in the order their events were handled
	sendMu sync.Mutex

	mu       sync.Mutex
	active   bool
	remote   Size
	buttons  uint32
	lastX    uint32
	lastY    uint32
	touches  map[uint64][2]uint32
	keysDown map[string]uint32
	capture  bool

	clipboardSeq atomic.Uint64
	sent         atomic.Uint64
	dropped      atomic.Uint64
	failed       atomic.Uint64
}

func New(sender Sender, surface SurfaceSizer, opts ...Option) *Translator {
	t := &Translator{
		sender:   sender,
		surface:  surface,
		keys:     DefaultKeyMap(),
		log:      zerolog.Nop(),
		touches:  make(map[uint64][2]uint32),
		keysDown: make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Activate starts forwarding events for a remote frame of the given size.
func (t *Translator) Activate(remote Size) {
	t.mu.Lock()
	t.active = true
	t.remote = remote
	t.mu.Unlock()
	t.log.Debug().Int("width", remote.Width).Int("height", remote.Height).Msg("activated")
}

// Deactivate stops forwarding and forgets held buttons and keys without
// sending releases.
func (t *Translator) Deactivate() {
	t.mu.Lock()
	t.active = false
	changed := t.clearLocked()
	t.mu.Unlock()
	t.notifyCapture(changed, false)
}

func (t *Translator) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// SetRemoteSize follows the decoded frame size, it changes on rotation.
func (t *Translator) SetRemoteSize(remote Size) {
	if remote.Empty() {
		return
	}
	t.mu.Lock()
	t.remote = remote
	t.mu.Unlock()
}

func (t *Translator) RemoteSize() Size {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

func (t *Translator) Stats() Stats {
	return Stats{Sent: t.sent.Load(), Dropped: t.dropped.Load(), Failed: t.failed.Load()}
}

// MapPoint maps a point of the local surface to the remote frame. The frame
// is assumed letterboxed into the surface with a uniform scale; the result
// is clamped inside the frame.
func MapPoint(x, y float64, local, remote Size) (uint32, uint32) {
	lw, lh := float64(local.Width), float64(local.Height)
	rw, rh := float64(remote.Width), float64(remote.Height)
	scale := math.Min(lw/rw, lh/rh)
	offX := (lw - rw*scale) / 2
	offY := (lh - rh*scale) / 2
	dx := math.Floor((x - offX) / scale)
	dy := math.Floor((y - offY) / scale)
	return clampCoord(dx, remote.Width), clampCoord(dy, remote.Height)
}

// InFrame reports whether a point of the local surface falls on the
// letterboxed frame rather than on the bars around it.
func InFrame(x, y float64, local, remote Size) bool {
	lw, lh := float64(local.Width), float64(local.Height)
	rw, rh := float64(remote.Width), float64(remote.Height)
	scale := math.Min(lw/rw, lh/rh)
	offX := (lw - rw*scale) / 2
	offY := (lh - rh*scale) / 2
	return x >= offX && x < offX+rw*scale && y >= offY && y < offY+rh*scale
}

// dim16 clamps a frame dimension to the u16 field of the wire format.
func dim16(v int) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	if v < 0 {
		return 0
	}
	return uint16(v)
}

func clampCoord(v float64, size int) uint32 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > float64(size-1) {
		return uint32(size - 1)
	}
	return uint32(v)
}

// Translate converts ev into a control message. It returns false for events
// that produce nothing: unmapped keys, hover moves, releases of buttons that
// were never pressed, or an unusable size.
func (t *Translator) Translate(ev Event, local, remote Size) ([]byte, bool) {
	t.mu.Lock()
	msg, ok, changed, capture := t.translateLocked(ev, local, remote)
	t.mu.Unlock()
	t.notifyCapture(changed, capture)
	return msg, ok
}

func (t *Translator) translateLocked(ev Event, local, remote Size) (msg []byte, ok, changed, capture bool) {
	switch ev.Kind {
	case KeyDown, KeyUp:
		msg, ok = t.keyLocked(ev)
		return msg, ok, false, t.capture
	case PointerDown, PointerMove, PointerUp, Scroll:
	default:
		return nil, false, false, t.capture
	}
	if local.Empty() || remote.Empty() {
		return nil, false, false, t.capture
	}

	x, y := MapPoint(ev.X, ev.Y, local, remote)
	e := scrcpy.TouchEvent{
		PosX:   x,
		PosY:   y,
		Width:  dim16(remote.Width),
		Height: dim16(remote.Height),
	}
	wasCaptured := t.capture

	switch {
	case ev.Kind == Scroll:
		return scrcpy.ScrollEvent{
			PosX:    x,
			PosY:    y,
			Width:   dim16(remote.Width),
			Height:  dim16(remote.Height),
			HScroll: float32(ev.HScroll),
			VScroll: float32(ev.VScroll),
			Buttons: t.buttons,
		}.Marshal(), true, false, t.capture

	case ev.Touch:
		e.PointerID = ev.Pointer
		_, held := t.touches[ev.Pointer]
		switch ev.Kind {
		case PointerDown:
			e.Action = scrcpy.ACTION_DOWN
			e.Pressure = 1
			t.touches[ev.Pointer] = [2]uint32{x, y}
		case PointerMove:
			if !held {
				return nil, false, false, t.capture
			}
			e.Action = scrcpy.ACTION_MOVE
			e.Pressure = 1
			t.touches[ev.Pointer] = [2]uint32{x, y}
		case PointerUp:
			if !held {
				return nil, false, false, t.capture
			}
			e.Action = scrcpy.ACTION_UP
			delete(t.touches, ev.Pointer)
		}

	default:
		e.PointerID = scrcpy.POINTER_ID_MOUSE
		mask := ev.Button.mask()
		switch ev.Kind {
		case PointerDown:
			if mask == 0 {
				return nil, false, false, t.capture
			}
			t.buttons |= mask
			e.Action = scrcpy.ACTION_DOWN
			e.ActionButton = mask
			e.Pressure = 1
		case PointerMove:
			if t.buttons == 0 {
				return nil, false, false, t.capture
			}
			e.Action = scrcpy.ACTION_MOVE
			e.Pressure = 1
		case PointerUp:
			if t.buttons&mask == 0 {
				return nil, false, false, t.capture
			}
			t.buttons &^= mask
			e.Action = scrcpy.ACTION_UP
			e.ActionButton = mask
		}
		e.Buttons = t.buttons
		t.lastX, t.lastY = x, y
	}

	held := t.buttons != 0 || len(t.touches) > 0
	switch {
	case !held:
		t.capture = false
	case ev.Kind == PointerDown && InFrame(ev.X, ev.Y, local, remote):
		t.capture = true
	}
	return e.Marshal(), true, t.capture != wasCaptured, t.capture
}

func (t *Translator) keyLocked(ev Event) ([]byte, bool) {
	code, ok := t.keys[ev.Key]
	if !ok {
		return nil, false
	}
	e := scrcpy.KeyEvent{KeyCode: code, Repeat: ev.Repeat}
	if ev.Kind == KeyDown {
		e.Action = scrcpy.ACTION_DOWN
		t.keysDown[ev.Key] = code
	} else {
		e.Action = scrcpy.ACTION_UP
		delete(t.keysDown, ev.Key)
	}
	e.MetaState = t.metaStateLocked()
	return e.Marshal(), true
}

func (t *Translator) metaStateLocked() uint32 {
	var meta uint32
	for _, code := range t.keysDown {
		meta |= modifierMeta[code]
	}
	return meta
}

// Handle translates ev against the current surface and remote sizes and
// sends the result. Failures are logged and counted, never returned.
func (t *Translator) Handle(ev Event) {
	if ev.Kind == FocusLost {
		t.ReleaseAll()
		return
	}
	t.mu.Lock()
	active, remote := t.active, t.remote
	t.mu.Unlock()
	if !active {
		t.dropped.Add(1)
		return
	}
	var local Size
	if t.surface != nil {
		local = t.surface.SurfaceSize()
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	msg, ok := t.Translate(ev, local, remote)
	if !ok {
		t.dropped.Add(1)
		return
	}
	t.send(msg, string(ev.Kind))
}

// ReleaseAll sends an up event for every held mouse button, finger and key,
// then clears the held state.
func (t *Translator) ReleaseAll() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	var msgs [][]byte
	if t.active && !t.remote.Empty() {
		msgs = t.releaseMessagesLocked()
	}
	changed := t.clearLocked()
	t.mu.Unlock()

	for _, msg := range msgs {
		t.send(msg, "release")
	}
	t.notifyCapture(changed, false)
}

func (t *Translator) releaseMessagesLocked() [][]byte {
	var msgs [][]byte
	w, h := dim16(t.remote.Width), dim16(t.remote.Height)

	buttons := t.buttons
	for _, mask := range []uint32{scrcpy.BUTTON_PRIMARY, scrcpy.BUTTON_SECONDARY, scrcpy.BUTTON_TERTIARY, scrcpy.BUTTON_BACK, scrcpy.BUTTON_FORWARD} {
		if buttons&mask == 0 {
			continue
		}
		buttons &^= mask
		msgs = append(msgs, scrcpy.TouchEvent{
			Action:       scrcpy.ACTION_UP,
			PointerID:    scrcpy.POINTER_ID_MOUSE,
			PosX:         t.lastX,
			PosY:         t.lastY,
			Width:        w,
			Height:       h,
			ActionButton: mask,
			Buttons:      buttons,
		}.Marshal())
	}

	ids := make([]uint64, 0, len(t.touches))
	for id := range t.touches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		pos := t.touches[id]
		msgs = append(msgs, scrcpy.TouchEvent{
			Action:    scrcpy.ACTION_UP,
			PointerID: id,
			PosX:      pos[0],
			PosY:      pos[1],
			Width:     w,
			Height:    h,
		}.Marshal())
	}

	names := make([]string, 0, len(t.keysDown))
	for name := range t.keysDown {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		code := t.keysDown[name]
		delete(t.keysDown, name)
		msgs = append(msgs, scrcpy.KeyEvent{
			Action:    scrcpy.ACTION_UP,
			KeyCode:   code,
			MetaState: t.metaStateLocked(),
		}.Marshal())
	}
	return msgs
}

// clearLocked reports whether capture was on.
func (t *Translator) clearLocked() bool {
	t.buttons = 0
	clear(t.touches)
	clear(t.keysDown)
	was := t.capture
	t.capture = false
	return was
}

// Command sends a device action. Unlike Handle it returns the send error.
func (t *Translator) Command(cmd Command) error {
	var msg []byte
	switch cmd.Kind {
	case CmdBackOrScreenOn:
		// down then up, the server acts on the pair
		if err := t.sendErr(scrcpy.BackOrScreenOn(scrcpy.ACTION_DOWN)); err != nil {
			return err
		}
		msg = scrcpy.BackOrScreenOn(scrcpy.ACTION_UP)
	case CmdExpandNotifications:
		msg = scrcpy.Command(scrcpy.TYPE_EXPAND_NOTIFICATION_PANEL)
	case CmdExpandSettings:
		msg = scrcpy.Command(scrcpy.TYPE_EXPAND_SETTINGS_PANEL)
	case CmdCollapsePanels:
		msg = scrcpy.Command(scrcpy.TYPE_COLLAPSE_PANELS)
	case CmdRotate:
		msg = scrcpy.Command(scrcpy.TYPE_ROTATE_DEVICE)
	case CmdResetVideo:
		msg = scrcpy.Command(scrcpy.TYPE_RESET_VIDEO)
	case CmdOpenKeyboardSettings:
		msg = scrcpy.Command(scrcpy.TYPE_OPEN_HARD_KEYBOARD_SETTINGS)
	case CmdSetClipboard:
		msg = scrcpy.SetClipboard(t.clipboardSeq.Add(1), cmd.Text, cmd.Paste)
	case CmdGetClipboard:
		msg = scrcpy.GetClipboard(scrcpy.COPY_KEY_NONE)
	case CmdInjectText:
		if cmd.Text == "" {
			return nil
		}
		msg = scrcpy.InjectText(cmd.Text)
	case CmdDisplayPower:
		msg = scrcpy.SetDisplayPower(cmd.On)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Kind)
	}
	return t.sendErr(msg)
}

func (t *Translator) sendErr(msg []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := t.sender.SendControl(msg); err != nil {
		t.failed.Add(1)
		return err
	}
	t.sent.Add(1)
	return nil
}

func (t *Translator) send(msg []byte, what string) {
	if err := t.sender.SendControl(msg); err != nil {
		n := t.failed.Add(1)
		t.log.Warn().Err(err).Str("event", what).Uint64("failed", n).Msg("control message lost")
		return
	}
	t.sent.Add(1)
}

func (t *Translator) notifyCapture(changed, active bool) {
	if changed && t.onCapture != nil {
		t.onCapture(active)
	}
}
