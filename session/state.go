package session

import "sync/atomic"

type State int32

const (
	Idle State = iota
	Launching
	Connecting
	Streaming
	Stopping
	Stopped
	Failed
)

var stateNames = [...]string{
	Idle:       "idle",
	Launching:  "launching",
	Connecting: "connecting",
	Streaming:  "streaming",
	Stopping:   "stopping",
	Stopped:    "stopped",
	Failed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Stopped || s == Failed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// stateCell is shared by the session and its launcher. Every transition is
// a compare-and-swap so that a stop racing a launch step has one winner.
type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) Load() State {
	return State(c.v.Load())
}

func (c *stateCell) Store(s State) {
	c.v.Store(int32(s))
}

func (c *stateCell) CompareAndSwap(from, to State) bool {
	return c.v.CompareAndSwap(int32(from), int32(to))
}

// beginStop moves any non-terminal state to Stopping and returns the state
// it replaced. A terminal state is left alone.
func (c *stateCell) beginStop() State {
	for {
		cur := c.Load()
		if cur.Terminal() || cur == Stopping {
			return cur
		}
		if c.CompareAndSwap(cur, Stopping) {
			return cur
		}
	}
}
