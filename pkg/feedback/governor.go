// Package feedback implements the feedback governor (spec §4.7): REMB
// ramp-up and periodic PLI for a recording session's video track.
package feedback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/ethan/mjr-recordplay/pkg/transport"
)

const (
	rampUpSteps        = 4
	rembSteadyInterval = 5 * time.Second

	// DefaultKeyframeInterval is the default PLI period when a session
	// doesn't override it via configure (spec §4.7).
	DefaultKeyframeInterval = 15 * time.Second
)

// Governor tracks REMB ramp-up state and PLI scheduling for one recording
// session's video SSRC. All scheduling state is guarded by mu, so
// OnVideoPacket, SetTarget and SetKeyframeInterval may be called from
// different goroutines; the RTCP send itself happens outside the lock.
type Governor struct {
	logger *slog.Logger
	tr     transport.Transport

	videoSSRC uint32

	mu                  sync.Mutex
	targetBitrate       uint64
	remainingRampSteps  int
	lastREMB            time.Time
	keyframeInterval    time.Duration
	lastPLI             time.Time
	packetsSinceStart   uint64
}

// New constructs a Governor for a session's video SSRC with the given
// target bitrate and keyframe interval (0 uses DefaultKeyframeInterval).
func New(tr transport.Transport, videoSSRC uint32, targetBitrate uint64, keyframeInterval time.Duration, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	if keyframeInterval <= 0 {
		keyframeInterval = DefaultKeyframeInterval
	}
	return &Governor{
		logger:             logger.With("component", "feedback"),
		tr:                 tr,
		videoSSRC:          videoSSRC,
		targetBitrate:      targetBitrate,
		remainingRampSteps: rampUpSteps,
		keyframeInterval:   keyframeInterval,
	}
}

// SetTarget updates the target bitrate, e.g. in response to a configure
// request. It does not reset ramp-up progress.
func (g *Governor) SetTarget(bitrate uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.targetBitrate = bitrate
}

// SetKeyframeInterval updates the PLI period.
func (g *Governor) SetKeyframeInterval(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d > 0 {
		g.keyframeInterval = d
	}
}

// OnVideoPacket is called for every inbound RTP packet marked video on a
// recording session. It emits a REMB per the ramp-up/steady schedule and a
// PLI per the keyframe interval, both using now for timing decisions.
func (g *Governor) OnVideoPacket(now time.Time) {
	g.mu.Lock()
	g.packetsSinceStart++

	var remb *rtcp.ReceiverEstimatedMaximumBitrate
	switch {
	case g.remainingRampSteps > 0:
		rate := g.targetBitrate / uint64(g.remainingRampSteps)
		remb = &rtcp.ReceiverEstimatedMaximumBitrate{
			Bitrate: float32(rate),
			SSRCs:   []uint32{g.videoSSRC},
		}
		g.remainingRampSteps--
		g.lastREMB = now
	case now.Sub(g.lastREMB) >= rembSteadyInterval:
		remb = &rtcp.ReceiverEstimatedMaximumBitrate{
			Bitrate: float32(g.targetBitrate),
			SSRCs:   []uint32{g.videoSSRC},
		}
		g.lastREMB = now
	}

	var pli *rtcp.PictureLossIndication
	if g.lastPLI.IsZero() || now.Sub(g.lastPLI) >= g.keyframeInterval {
		pli = &rtcp.PictureLossIndication{MediaSSRC: g.videoSSRC}
		g.lastPLI = now
	}
	g.mu.Unlock()

	var pkts []rtcp.Packet
	if remb != nil {
		pkts = append(pkts, remb)
	}
	if pli != nil {
		pkts = append(pkts, pli)
	}
	if len(pkts) == 0 {
		return
	}

	if err := g.tr.SendRTCP(pkts); err != nil {
		g.logger.Warn("send rtcp feedback failed", "error", err)
	}
}
