package relay

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"mirrorcore/framebuffer"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// used when the PTS delta is unusable, about 60fps
const defaultFrameDuration = 16 * time.Millisecond

// Track is the shared video track every peer of a session subscribes to.
type Track struct {
	local *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	lastPTS time.Duration
	started bool
}

func NewTrack(codecID, deviceID string) (*Track, error) {
	mimeType, err := MimeType(codecID)
	if err != nil {
		return nil, err
	}
	suffix := randomString(8)
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		"mirror-track-"+suffix+"-"+deviceID,
		"mirror-stream-"+suffix+"-"+deviceID,
	)
	if err != nil {
		return nil, err
	}
	return &Track{local: local}, nil
}

func (t *Track) MimeType() string { return t.local.Codec().MimeType }

// duration is the gap to the previous frame. The first frame and frames
// whose PTS does not advance get the default.
func (t *Track) duration(pts time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := defaultFrameDuration
	if t.started && pts > t.lastPTS {
		d = pts - t.lastPTS
	}
	if !t.started || pts > t.lastPTS {
		t.lastPTS = pts
	}
	t.started = true
	return d
}

// WriteFrame sends the encoded payload of f. The payload is packetized
// before it returns, so f can be recycled right after.
func (t *Track) WriteFrame(f *framebuffer.Frame) error {
	if len(f.Planes) == 0 || len(f.Planes[0]) == 0 {
		return errors.New("empty frame")
	}
	return t.local.WriteSample(media.Sample{
		Data:     f.Planes[0],
		Duration: t.duration(f.PTS),
	})
}

func randomString(n int) string {
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		return "mirror"
	}
	return hex.EncodeToString(b)
}
