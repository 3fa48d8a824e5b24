package sdpgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildThenParseOfferRoundTrips(t *testing.T) {
	tracks := NegotiatedMedia{AudioCodec: "opus", VideoCodec: "VP8"}

	offer, err := BuildOffer(tracks, ModeRecord)
	require.NoError(t, err)
	require.Contains(t, offer, "m=audio")
	require.Contains(t, offer, "m=video")
	require.Contains(t, offer, "recvonly")

	parsed, err := ParseOfferOrAnswer(offer)
	require.NoError(t, err)
	require.Equal(t, "opus", parsed.AudioCodec)
	require.Equal(t, "VP8", parsed.VideoCodec)
	require.Equal(t, "recvonly", parsed.AudioDirection)
	require.Equal(t, "recvonly", parsed.VideoDirection)
}

func TestBuildOfferAudioOnly(t *testing.T) {
	offer, err := BuildOffer(NegotiatedMedia{AudioCodec: "PCMU"}, ModePlay)
	require.NoError(t, err)
	require.Contains(t, offer, "m=audio")
	require.NotContains(t, offer, "m=video")
	require.Contains(t, offer, "sendonly")
}

func TestParseOfferInvalidSDP(t *testing.T) {
	_, err := ParseOfferOrAnswer("not an sdp document")
	require.ErrorIs(t, err, ErrInvalidSDP)
}

func TestParseOfferDetectsSimulcastBaseSSRC(t *testing.T) {
	sdpText := "v=0\r\n" +
		"o=- 1 1 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 100\r\n" +
		"a=rtpmap:100 VP8/90000\r\n" +
		"a=ssrc-group:SIM 1111 2222 3333\r\n" +
		"a=sendonly\r\n"

	parsed, err := ParseOfferOrAnswer(sdpText)
	require.NoError(t, err)
	require.Equal(t, "VP8", parsed.VideoCodec)
	require.Equal(t, uint32(1111), parsed.SimulcastBaseSSRC)
}

func TestBuildAnswerRejectsInvalidOffer(t *testing.T) {
	_, err := BuildAnswer("garbage", NegotiatedMedia{AudioCodec: "opus"}, ModeRecord)
	require.ErrorIs(t, err, ErrInvalidSDP)
}
