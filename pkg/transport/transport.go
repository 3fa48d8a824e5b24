// Package transport names the boundary between this module and whatever
// real WebRTC host wires it up (spec.md §1 treats the transport as an
// external collaborator; this package is the concrete Go contract for it,
// per SPEC_FULL.md §4.10).
package transport

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Transport is the per-session handle the host RTP/RTCP layer gives this
// module. Implementations must be safe for concurrent use: SendRTP is
// called from the playout worker, SendRTCP from the feedback governor, and
// Close from the session's hangup path.
type Transport interface {
	SendRTP(pkt *rtp.Packet) error
	SendRTCP(pkts []rtcp.Packet) error
	Close() error
}
