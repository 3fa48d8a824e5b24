// Package sdpgen is the concrete SDP collaborator (SPEC_FULL.md §4.8): it
// parses peer offers/answers and builds this module's own offers/answers,
// built on github.com/pion/sdp/v3.
package sdpgen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/ethan/mjr-recordplay/pkg/mjr"
)

// ErrInvalidSDP is returned when an offer or answer fails to parse.
var ErrInvalidSDP = errors.New("sdpgen: invalid sdp")

// Mode selects which fixed direction this module advertises for its own
// generated offers/answers, per spec §6: a recording peer sends to us
// (recvonly from our side), a replay viewer receives from us (sendonly).
type Mode int

const (
	ModeRecord Mode = iota
	ModePlay
)

func (m Mode) direction() string {
	if m == ModePlay {
		return "sendonly"
	}
	return "recvonly"
}

// NegotiatedMedia is the result of parsing an offer or answer: which tracks
// are present, their codec, and (for a record offer) the simulcast base
// SSRC if one was announced.
type NegotiatedMedia struct {
	AudioCodec        string // canonical codec name, "" if audio is absent
	AudioDirection    string
	VideoCodec        string
	VideoDirection    string
	SimulcastBaseSSRC uint32
}

func (n NegotiatedMedia) HasAudio() bool { return n.AudioCodec != "" && n.AudioDirection != "recvonly" }
func (n NegotiatedMedia) HasVideo() bool { return n.VideoCodec != "" && n.VideoDirection != "recvonly" }

// ParseOfferOrAnswer extracts the preferred audio/video codec, direction,
// and simulcast base SSRC from an SDP offer or answer (spec §4.8).
func ParseOfferOrAnswer(sdpText string) (NegotiatedMedia, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		return NegotiatedMedia{}, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}

	var out NegotiatedMedia
	var seenAudio, seenVideo bool
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			if seenAudio {
				continue
			}
			seenAudio = true
			out.AudioCodec, out.AudioDirection = extractCodecAndDirection(md)
		case "video":
			if seenVideo {
				continue
			}
			seenVideo = true
			out.VideoCodec, out.VideoDirection = extractCodecAndDirection(md)
			out.SimulcastBaseSSRC = extractSimulcastBaseSSRC(md)
		}
	}
	return out, nil
}

func extractCodecAndDirection(md *sdp.MediaDescription) (codec, direction string) {
	direction = "sendrecv"
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "sendonly", "recvonly", "sendrecv", "inactive":
			direction = attr.Key
		case "rtpmap":
			if codec != "" {
				continue
			}
			fields := strings.Fields(attr.Value)
			if len(fields) < 2 {
				continue
			}
			name := strings.ToLower(strings.SplitN(fields[1], "/", 2)[0])
			if canonical, ok := mjr.MatchCodec(name); ok {
				codec = canonical
			}
		}
	}
	return codec, direction
}

// extractSimulcastBaseSSRC looks for an "a=ssrc-group:SIM <base> ..." line
// and returns its first (base) SSRC, or 0 if no simulcast group is present.
func extractSimulcastBaseSSRC(md *sdp.MediaDescription) uint32 {
	for _, attr := range md.Attributes {
		if attr.Key != "ssrc-group" {
			continue
		}
		fields := strings.Fields(attr.Value)
		if len(fields) < 2 || fields[0] != "SIM" {
			continue
		}
		if v, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
			return uint32(v)
		}
	}
	return 0
}

// BuildOffer constructs a plugin-authored offer advertising the given
// tracks in the fixed direction for mode, per spec §4.8/§6.
func BuildOffer(tracks NegotiatedMedia, mode Mode) (string, error) {
	return build(tracks, mode)
}

// BuildAnswer constructs this module's answer to a peer's offer. The fixed
// direction is determined by mode, not by re-reading the offer's own
// direction attributes — this module always records recvonly and always
// plays back sendonly.
func BuildAnswer(offer string, tracks NegotiatedMedia, mode Mode) (string, error) {
	if _, err := ParseOfferOrAnswer(offer); err != nil {
		return "", err
	}
	return build(tracks, mode)
}

func build(tracks NegotiatedMedia, mode Mode) (string, error) {
	desc := sdp.NewJSEPSessionDescription(false)

	if tracks.AudioCodec != "" {
		md := sdp.NewJSEPMediaDescription("audio", nil).
			WithCodec(mjr.AudioPayloadType(tracks.AudioCodec), rtpmapName(tracks.AudioCodec), mjr.AudioClockRate(tracks.AudioCodec), audioChannels(tracks.AudioCodec), "").
			WithPropertyAttribute(mode.direction())
		desc = desc.WithMedia(md)
	}

	if tracks.VideoCodec != "" {
		md := sdp.NewJSEPMediaDescription("video", nil).
			WithCodec(mjr.VideoPayloadType, rtpmapName(tracks.VideoCodec), mjr.VideoClockRate, 0, "").
			WithPropertyAttribute(mode.direction())
		desc = desc.WithMedia(md)
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdpgen: marshal: %w", err)
	}
	return string(raw), nil
}

func rtpmapName(codec string) string {
	// mjr's canonical names match pion/webrtc's MimeType suffix casing
	// (e.g. "opus", "PCMU", "VP8"), which is also the conventional rtpmap
	// encoding name.
	return codec
}

func audioChannels(codec string) uint16 {
	if strings.ToLower(codec) == "opus" {
		return 2
	}
	return 1
}
