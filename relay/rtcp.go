package relay

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
)

// RTCPReader is the read side of an RTP sender.
type RTCPReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

// HandleRTCP reads feedback until the sender closes and calls onKeyFrame
// for every picture loss indication or full intra request. Throttling is
// up to the callee.
func HandleRTCP(r RTCPReader, onKeyFrame func()) {
	buf := make([]byte, 1500)
	for {
		n, _, err := r.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				onKeyFrame()
			}
		}
	}
}
