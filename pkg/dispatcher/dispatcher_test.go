package dispatcher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/ethan/mjr-recordplay/pkg/indexer"
	"github.com/ethan/mjr-recordplay/pkg/mjr"
	"github.com/ethan/mjr-recordplay/pkg/registry"
	"github.com/ethan/mjr-recordplay/pkg/sdpgen"
	"github.com/ethan/mjr-recordplay/pkg/session"
)

type nullTransport struct{}

func (nullTransport) SendRTP(pkt *rtp.Packet) error    { return nil }
func (nullTransport) SendRTCP(pkts []rtcp.Packet) error { return nil }
func (nullTransport) Close() error                     { return nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := registry.New(nil)
	sessions := session.NewTable(nil)
	d := New(reg, sessions, t.TempDir(), nil)
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

// peerOffer builds a valid offer as if a remote peer were sending to us,
// using sdpgen's own builder in ModePlay so the media lines come out
// sendonly from the peer's perspective (it is offering to send).
func peerOffer(t *testing.T, tracks sdpgen.NegotiatedMedia) string {
	t.Helper()
	offer, err := sdpgen.BuildOffer(tracks, sdpgen.ModePlay)
	require.NoError(t, err)
	return offer
}

func submitJSON(t *testing.T, d *Dispatcher, sess *session.Session, body map[string]any) Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return d.Submit(sess, raw)
}

func TestMissingRequestField(t *testing.T) {
	d := newTestDispatcher(t)
	resp := submitJSON(t, d, nil, map[string]any{})
	require.Equal(t, "event", resp.Recordplay)
	require.Equal(t, 415, resp.ErrorCode)
}

func TestUnknownRequestType(t *testing.T) {
	d := newTestDispatcher(t)
	resp := submitJSON(t, d, nil, map[string]any{"request": "bogus"})
	require.Equal(t, 413, resp.ErrorCode)
}

func TestListIsInitiallyEmpty(t *testing.T) {
	d := newTestDispatcher(t)
	resp := submitJSON(t, d, nil, map[string]any{"request": "list"})
	require.Equal(t, "list", resp.Recordplay)
	require.Empty(t, resp.List)
}

func TestRecordThenStopListsRecording(t *testing.T) {
	d := newTestDispatcher(t)
	sess := session.New(session.RoleRecorder, nullTransport{}, nil)

	offer := peerOffer(t, sdpgen.NegotiatedMedia{AudioCodec: "opus", VideoCodec: "VP8"})
	resp := submitJSON(t, d, sess, map[string]any{
		"request": "record",
		"name":    "demo",
		"sdp":     offer,
	})
	require.Equal(t, "event", resp.Recordplay)
	require.Empty(t, resp.Error)
	require.Equal(t, "recording", resp.Result.Status)
	require.NotZero(t, resp.Result.ID)
	require.NotEmpty(t, resp.Result.SDP)

	stopResp := submitJSON(t, d, sess, map[string]any{"request": "stop"})
	require.Equal(t, "stopped", stopResp.Result.Status)

	listResp := submitJSON(t, d, nil, map[string]any{"request": "list"})
	require.Len(t, listResp.List, 1)
	rec := listResp.List[0]
	require.Equal(t, "demo", rec.Name)
	require.True(t, rec.Audio)
	require.True(t, rec.Video)
}

func TestRecordDuplicateIDFails(t *testing.T) {
	d := newTestDispatcher(t)
	sessA := session.New(session.RoleRecorder, nullTransport{}, nil)
	offer := peerOffer(t, sdpgen.NegotiatedMedia{AudioCodec: "opus"})

	resp := submitJSON(t, d, sessA, map[string]any{
		"request": "record",
		"name":    "first",
		"id":      float64(42),
		"sdp":     offer,
	})
	require.Equal(t, uint64(42), resp.Result.ID)

	sessB := session.New(session.RoleRecorder, nullTransport{}, nil)
	resp2 := submitJSON(t, d, sessB, map[string]any{
		"request": "record",
		"name":    "second",
		"id":      float64(42),
		"sdp":     offer,
	})
	require.Equal(t, 420, resp2.ErrorCode)
}

func TestPlayAfterRecordProducesOffer(t *testing.T) {
	d := newTestDispatcher(t)
	rSess := session.New(session.RoleRecorder, nullTransport{}, nil)
	offer := peerOffer(t, sdpgen.NegotiatedMedia{AudioCodec: "opus", VideoCodec: "VP8"})

	recResp := submitJSON(t, d, rSess, map[string]any{
		"request": "record",
		"name":    "replayme",
		"sdp":     offer,
	})
	require.NotZero(t, recResp.Result.ID)

	// Ingest inbound RTP the way a real transport's receive callback would,
	// through the session rather than poking a writer directly.
	for i := 0; i < 3; i++ {
		audioPkt := &rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i) * 960, SSRC: 11},
			Payload: []byte{byte(i), 2, 3},
		}
		require.NoError(t, rSess.HandleRTP(audioPkt, mjr.KindAudio))

		videoPkt := &rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i) * 3000, SSRC: 22},
			Payload: []byte{byte(i), 5, 6},
		}
		require.NoError(t, rSess.HandleRTP(videoPkt, mjr.KindVideo))
	}

	submitJSON(t, d, rSess, map[string]any{"request": "stop"})

	pSess := session.New(session.RolePlayer, nullTransport{}, nil)
	playResp := submitJSON(t, d, pSess, map[string]any{"request": "play", "id": float64(recResp.Result.ID)})
	require.Equal(t, "preparing", playResp.Result.Status)
	require.Contains(t, playResp.Result.SDP, "sendonly")

	startResp := submitJSON(t, d, pSess, map[string]any{"request": "start", "sdp": "v=0\r\n"})
	require.Equal(t, "playing", startResp.Result.Status)

	require.Eventually(t, func() bool {
		return pSess.Destroyed() == false
	}, time.Second, 10*time.Millisecond)

	submitJSON(t, d, pSess, map[string]any{"request": "stop"})
}

// TestRecordIngestWritesBothTracks confirms the recording-ingest path (the
// gap flagged in review: Session.HandleRTP routing to the per-track writer)
// actually persists frames, by reading them back with the frame indexer.
func TestRecordIngestWritesBothTracks(t *testing.T) {
	d := newTestDispatcher(t)
	sess := session.New(session.RoleRecorder, nullTransport{}, nil)
	offer := peerOffer(t, sdpgen.NegotiatedMedia{AudioCodec: "opus", VideoCodec: "VP8"})

	recResp := submitJSON(t, d, sess, map[string]any{
		"request": "record",
		"name":    "ingest",
		"sdp":     offer,
	})
	require.NotZero(t, recResp.Result.ID)

	const frameCount = 5
	for i := 0; i < frameCount; i++ {
		require.NoError(t, sess.HandleRTP(&rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i) * 960, SSRC: 11},
			Payload: []byte{byte(i)},
		}, mjr.KindAudio))
		require.NoError(t, sess.HandleRTP(&rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i) * 3000, SSRC: 22},
			Payload: []byte{byte(i)},
		}, mjr.KindVideo))
	}

	stopResp := submitJSON(t, d, sess, map[string]any{"request": "stop"})
	require.Equal(t, "stopped", stopResp.Result.Status)

	listResp := submitJSON(t, d, nil, map[string]any{"request": "list"})
	require.Len(t, listResp.List, 1)
	rec := listResp.List[0]

	audioList, err := indexer.BuildIndex(recordingFile(t, d, rec.ID, true), nil)
	require.NoError(t, err)
	require.Equal(t, frameCount, audioList.Len)

	videoList, err := indexer.BuildIndex(recordingFile(t, d, rec.ID, false), nil)
	require.NoError(t, err)
	require.Equal(t, frameCount, videoList.Len)
}

// TestSimulcastDemotionDropsNonBaseSSRC exercises spec scenario 6: once a
// simulcast base SSRC has been fixed, inbound video from any other SSRC is
// dropped rather than written.
func TestSimulcastDemotionDropsNonBaseSSRC(t *testing.T) {
	d := newTestDispatcher(t)
	sess := session.New(session.RoleRecorder, nullTransport{}, nil)

	offerText := "v=0\r\n" +
		"o=- 1 1 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 100\r\n" +
		"a=rtpmap:100 VP8/90000\r\n" +
		"a=ssrc-group:SIM 111 222 333\r\n" +
		"a=sendonly\r\n"

	recResp := submitJSON(t, d, sess, map[string]any{
		"request": "record",
		"name":    "simulcast",
		"sdp":     offerText,
	})
	require.NotZero(t, recResp.Result.ID)
	require.Equal(t, uint32(111), sess.SimulcastBaseSSRC)

	require.NoError(t, sess.HandleRTP(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: 0, Timestamp: 0, SSRC: 111},
		Payload: []byte{1},
	}, mjr.KindVideo))
	require.NoError(t, sess.HandleRTP(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: 1, Timestamp: 3000, SSRC: 222},
		Payload: []byte{2},
	}, mjr.KindVideo))
	require.NoError(t, sess.HandleRTP(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: 1, Timestamp: 3000, SSRC: 111},
		Payload: []byte{3},
	}, mjr.KindVideo))

	submitJSON(t, d, sess, map[string]any{"request": "stop"})

	listResp := submitJSON(t, d, nil, map[string]any{"request": "list"})
	require.Len(t, listResp.List, 1)
	rec := listResp.List[0]

	videoList, err := indexer.BuildIndex(recordingFile(t, d, rec.ID, false), nil)
	require.NoError(t, err)
	require.Equal(t, 2, videoList.Len)
}

func recordingFile(t *testing.T, d *Dispatcher, id uint64, audio bool) string {
	t.Helper()
	rec, err := d.registry.Lookup(id)
	require.NoError(t, err)
	defer rec.Release()
	if audio {
		return rec.AudioFile
	}
	return rec.VideoFile
}

func TestPlayMissingRecordingNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	pSess := session.New(session.RolePlayer, nullTransport{}, nil)
	resp := submitJSON(t, d, pSess, map[string]any{"request": "play", "id": float64(999)})
	require.Equal(t, 416, resp.ErrorCode)
}

func TestConfigureAcknowledgedForRecorderWithGovernor(t *testing.T) {
	d := newTestDispatcher(t)
	sess := session.New(session.RoleRecorder, nullTransport{}, nil)
	offer := peerOffer(t, sdpgen.NegotiatedMedia{AudioCodec: "opus", VideoCodec: "VP8"})
	submitJSON(t, d, sess, map[string]any{"request": "record", "name": "gov", "sdp": offer})
	require.NotNil(t, sess.Governor)

	resp := submitJSON(t, d, sess, map[string]any{"request": "configure", "target_bitrate": float64(2_000_000)})
	require.Equal(t, "configure", resp.Recordplay)

	submitJSON(t, d, sess, map[string]any{"request": "stop"})
}

func TestSnapshotTracksRequestCounts(t *testing.T) {
	d := newTestDispatcher(t)
	submitJSON(t, d, nil, map[string]any{"request": "list"})
	submitJSON(t, d, nil, map[string]any{"request": "list"})
	submitJSON(t, d, nil, map[string]any{"request": "update"})

	snap := d.Snapshot()
	require.Equal(t, int64(2), snap.ByRequest["list"])
	require.Equal(t, int64(1), snap.ByRequest["update"])
	require.Equal(t, int64(3), snap.TotalHandled)
}

