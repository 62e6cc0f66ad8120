package relay

import (
	"fmt"

	pionSDP "github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const (
	PAYLOAD_TYPE_AV1_PROFILE_MAIN_5_1            = 100 // 2560x1440 @ 60fps
	PAYLOAD_TYPE_H265_PROFILE_MAIN_TIER_MAIN_5_1 = 102 // 2560x1440 @ 60fps 40Mbps Max
	PAYLOAD_TYPE_H265_PROFILE_MAIN_TIER_MAIN_4_1 = 103 // 1920x1080 @ 60fps 20Mbps Max
	PAYLOAD_TYPE_H264_PROFILE_HIGH_5_1           = 104 // 2560x1440 @ 60fps
	PAYLOAD_TYPE_H264_PROFILE_HIGH_5_1_0C        = 105 // 2560x1440 @ 60fps for iphone safari
	PAYLOAD_TYPE_H264_PROFILE_BASELINE_3_1       = 106 // 720p @ 30fps
)

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "transport-cc", Parameter: ""},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack", Parameter: ""},
	{Type: "nack", Parameter: "pli"},
}

// MimeType maps a scrcpy codec id to its RTP mime type.
func MimeType(codecID string) (string, error) {
	switch codecID {
	case "h264":
		return webrtc.MimeTypeH264, nil
	case "h265":
		return webrtc.MimeTypeH265, nil
	case "av1":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("unsupported video codec: %q", codecID)
}

type codecProfile struct {
	fmtp        string
	payloadType webrtc.PayloadType
}

var profiles = map[string][]codecProfile{
	webrtc.MimeTypeH264: {
		// profile-level-id: 64 High, 42 Baseline; 0c is the constraint set
		// iphone safari asks for; 33 is level 5.1, 1f level 3.1
		{"level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640033", PAYLOAD_TYPE_H264_PROFILE_HIGH_5_1},
		{"level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640c33", PAYLOAD_TYPE_H264_PROFILE_HIGH_5_1_0C},
		{"level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", PAYLOAD_TYPE_H264_PROFILE_BASELINE_3_1},
	},
	webrtc.MimeTypeH265: {
		{"profile-id=1;tier-flag=0;level-id=153", PAYLOAD_TYPE_H265_PROFILE_MAIN_TIER_MAIN_5_1},
		{"profile-id=1;tier-flag=0;level-id=123", PAYLOAD_TYPE_H265_PROFILE_MAIN_TIER_MAIN_4_1},
	},
	webrtc.MimeTypeAV1: {
		// profile=0 (Main Profile), level-idx=13 (Level 5.1), tier=0 (Main Tier)
		{"profile=0;level-idx=13;tier=0", PAYLOAD_TYPE_AV1_PROFILE_MAIN_5_1},
	},
}

// newMediaEngine registers only the codec the device encodes with, so the
// browser cannot negotiate anything the session cannot send.
func newMediaEngine(mimeType string) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	list, ok := profiles[mimeType]
	if !ok {
		return nil, fmt.Errorf("unsupported mime type: %s", mimeType)
	}
	for _, p := range list {
		err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     mimeType,
				ClockRate:    90000,
				SDPFmtpLine:  p.fmtp,
				RTCPFeedback: videoFeedback,
			},
			PayloadType: p.payloadType,
		}, webrtc.RTPCodecTypeVideo)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", mimeType, err)
		}
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: pionSDP.TransportCCURI},
		webrtc.RTPCodecTypeVideo,
	); err != nil {
		return nil, err
	}
	return m, nil
}
