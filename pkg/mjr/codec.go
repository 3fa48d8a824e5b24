package mjr

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// preferredCodecs is the table of codec names this container format
// recognizes, keyed by the lowercased name as it appears in an info
// header's "c" field or a legacy/SDP rtpmap. The canonical name mirrors
// pion/webrtc's MimeType constants (stripped of the "audio/"/"video/"
// prefix) so the rest of the module shares one vocabulary for codec names.
var preferredCodecs = map[string]string{
	"opus": strings.TrimPrefix(webrtc.MimeTypeOpus, "audio/"),
	"pcmu": strings.TrimPrefix(webrtc.MimeTypePCMU, "audio/"),
	"pcma": strings.TrimPrefix(webrtc.MimeTypePCMA, "audio/"),
	"g722": strings.TrimPrefix(webrtc.MimeTypeG722, "audio/"),
	"vp8":  strings.TrimPrefix(webrtc.MimeTypeVP8, "video/"),
	"vp9":  strings.TrimPrefix(webrtc.MimeTypeVP9, "video/"),
	"h264": strings.TrimPrefix(webrtc.MimeTypeH264, "video/"),
}

// MatchCodec normalizes a codec name and reports whether it is recognized.
func MatchCodec(name string) (canonical string, ok bool) {
	canonical, ok = preferredCodecs[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// AudioPayloadType returns the fixed RTP payload type for a negotiated audio
// codec per spec §4.4: 0 for PCMU, 8 for PCMA, 9 for G.722, else 111.
func AudioPayloadType(codec string) uint8 {
	switch strings.ToLower(codec) {
	case "pcmu":
		return 0
	case "pcma":
		return 8
	case "g722":
		return 9
	default:
		return 111
	}
}

// VideoPayloadType is the fixed RTP payload type for the single video track
// this format supports, per spec §4.4.
const VideoPayloadType uint8 = 100

// VideoClockRate is the RTP clock rate used by every video codec this
// format supports, per spec §4.6.
const VideoClockRate uint32 = 90000

// AudioClockRate returns the RTP clock rate for a negotiated audio codec:
// 8 kHz for PCMU/PCMA/G.722, 48 kHz otherwise (spec §4.6).
func AudioClockRate(codec string) uint32 {
	switch strings.ToLower(codec) {
	case "pcmu", "pcma", "g722":
		return 8000
	default:
		return 48000
	}
}
