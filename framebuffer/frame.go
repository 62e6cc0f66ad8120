package framebuffer

import "time"

// Frame is a decoded picture. Whoever holds the pointer owns it: the buffer
// while it sits in a slot, the caller after ConsumeLatest.
type Frame struct {
	Planes   [][]byte
	Strides  []int
	Width    int
	Height   int
	PTS      time.Duration
	KeyFrame bool
	// Seq increases by one per committed frame.
	Seq uint64
}

// Plane returns plane i resized to size bytes, reusing earlier allocations.
func (f *Frame) Plane(i, size int) []byte {
	for len(f.Planes) <= i {
		f.Planes = append(f.Planes, nil)
		f.Strides = append(f.Strides, 0)
	}
	if cap(f.Planes[i]) < size {
		f.Planes[i] = make([]byte, size)
	}
	f.Planes[i] = f.Planes[i][:size]
	return f.Planes[i]
}

// SetPlaneCount drops planes beyond n, keeping their storage out of sight.
func (f *Frame) SetPlaneCount(n int) {
	if len(f.Planes) > n {
		f.Planes = f.Planes[:n]
		f.Strides = f.Strides[:n]
	}
}

func (f *Frame) reset() {
	f.Width, f.Height = 0, 0
	f.PTS = 0
	f.KeyFrame = false
	f.Seq = 0
}
