package input

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// KeyMap maps local key identifiers (KeyboardEvent.code names) to Android
// keycodes. Keys missing from the map are not forwarded.
type KeyMap map[string]uint32

// android KeyEvent keycodes
const (
	keycodeHome        = 3
	keycodeBack        = 4
	keycode0           = 7
	keycodeDpadUp      = 19
	keycodeDpadDown    = 20
	keycodeDpadLeft    = 21
	keycodeDpadRight   = 22
	keycodeVolumeUp    = 24
	keycodeVolumeDown  = 25
	keycodePower       = 26
	keycodeA           = 29
	keycodeComma       = 55
	keycodePeriod      = 56
	keycodeAltLeft     = 57
	keycodeAltRight    = 58
	keycodeShiftLeft   = 59
	keycodeShiftRight  = 60
	keycodeTab         = 61
	keycodeSpace       = 62
	keycodeEnter       = 66
	keycodeDel         = 67
	keycodeGrave       = 68
	keycodeMinus       = 69
	keycodeEquals      = 70
	keycodeLeftBracket = 71
	keycodeRightBrack  = 72
	keycodeBackslash   = 73
	keycodeSemicolon   = 74
	keycodeApostrophe  = 75
	keycodeSlash       = 76
	keycodeMenu        = 82
	keycodePageUp      = 92
	keycodePageDown    = 93
	keycodeEscape      = 111
	keycodeForwardDel  = 112
	keycodeCtrlLeft    = 113
	keycodeCtrlRight   = 114
	keycodeCapsLock    = 115
	keycodeMetaLeft    = 117
	keycodeMetaRight   = 118
	keycodeMoveHome    = 122
	keycodeMoveEnd     = 123
	keycodeInsert      = 124
	keycodeF1          = 131
	keycodeAppSwitch   = 187
)

// android KeyEvent meta state bits
const (
	metaShiftOn    = 0x1
	metaAltOn      = 0x2
	metaAltLeft    = 0x10
	metaAltRight   = 0x20
	metaShiftLeft  = 0x40
	metaShiftRight = 0x80
	metaCtrlOn     = 0x1000
	metaCtrlLeft   = 0x2000
	metaCtrlRight  = 0x4000
	metaMetaOn     = 0x10000
	metaMetaLeft   = 0x20000
	metaMetaRight  = 0x40000
)

var modifierMeta = map[uint32]uint32{
	keycodeShiftLeft:  metaShiftOn | metaShiftLeft,
	keycodeShiftRight: metaShiftOn | metaShiftRight,
	keycodeAltLeft:    metaAltOn | metaAltLeft,
	keycodeAltRight:   metaAltOn | metaAltRight,
	keycodeCtrlLeft:   metaCtrlOn | metaCtrlLeft,
	keycodeCtrlRight:  metaCtrlOn | metaCtrlRight,
	keycodeMetaLeft:   metaMetaOn | metaMetaLeft,
	keycodeMetaRight:  metaMetaOn | metaMetaRight,
}

func DefaultKeyMap() KeyMap {
	m := KeyMap{
		"Enter":        keycodeEnter,
		"NumpadEnter":  keycodeEnter,
		"Backspace":    keycodeDel,
		"Delete":       keycodeForwardDel,
		"Tab":          keycodeTab,
		"Space":        keycodeSpace,
		"Escape":       keycodeEscape,
		"ArrowUp":      keycodeDpadUp,
		"ArrowDown":    keycodeDpadDown,
		"ArrowLeft":    keycodeDpadLeft,
		"ArrowRight":   keycodeDpadRight,
		"Home":         keycodeMoveHome,
		"End":          keycodeMoveEnd,
		"PageUp":       keycodePageUp,
		"PageDown":     keycodePageDown,
		"Insert":       keycodeInsert,
		"CapsLock":     keycodeCapsLock,
		"ShiftLeft":    keycodeShiftLeft,
		"ShiftRight":   keycodeShiftRight,
		"ControlLeft":  keycodeCtrlLeft,
		"ControlRight": keycodeCtrlRight,
		"AltLeft":      keycodeAltLeft,
		"AltRight":     keycodeAltRight,
		"MetaLeft":     keycodeMetaLeft,
		"MetaRight":    keycodeMetaRight,
		"Comma":        keycodeComma,
		"Period":       keycodePeriod,
		"Minus":        keycodeMinus,
		"Equal":        keycodeEquals,
		"BracketLeft":  keycodeLeftBracket,
		"BracketRight": keycodeRightBrack,
		"Backslash":    keycodeBackslash,
		"Semicolon":    keycodeSemicolon,
		"Quote":        keycodeApostrophe,
		"Slash":        keycodeSlash,
		"Backquote":    keycodeGrave,
		"ContextMenu":  keycodeMenu,

		"AudioVolumeUp":   keycodeVolumeUp,
		"AudioVolumeDown": keycodeVolumeDown,
		// device buttons, sent by the web client toolbar
		"AndroidHome":      keycodeHome,
		"AndroidBack":      keycodeBack,
		"AndroidPower":     keycodePower,
		"AndroidAppSwitch": keycodeAppSwitch,
	}
	for i := 0; i < 26; i++ {
		m["Key"+string(rune('A'+i))] = uint32(keycodeA + i)
	}
	for i := 0; i < 10; i++ {
		m[fmt.Sprintf("Digit%d", i)] = uint32(keycode0 + i)
	}
	for i := 0; i < 12; i++ {
		m[fmt.Sprintf("F%d", i+1)] = uint32(keycodeF1 + i)
	}
	return m
}

// LoadKeyMap reads a YAML mapping of key names to keycodes and applies it
// over base. A keycode of 0 removes the key.
func LoadKeyMap(path string, base KeyMap) (KeyMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keymap: %w", err)
	}
	var overrides map[string]int
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse keymap %s: %w", path, err)
	}
	m := maps.Clone(base)
	if m == nil {
		m = KeyMap{}
	}
	for name, code := range overrides {
		if code <= 0 {
			delete(m, name)
			continue
		}
		m[name] = uint32(code)
	}
	return m, nil
}
