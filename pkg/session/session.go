// Package session implements the session state machine (spec §4.5): the
// per-peer state for either a recording or a playback session, and the
// idempotent hangup teardown path.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/ethan/mjr-recordplay/pkg/feedback"
	"github.com/ethan/mjr-recordplay/pkg/indexer"
	"github.com/ethan/mjr-recordplay/pkg/mjr"
	"github.com/ethan/mjr-recordplay/pkg/registry"
	"github.com/ethan/mjr-recordplay/pkg/transport"
)

// Role identifies whether a session is recording inbound media or playing
// back a stored recording. A session never changes role after creation.
type Role int

const (
	RoleNone Role = iota
	RoleRecorder
	RolePlayer
)

func (r Role) String() string {
	switch r {
	case RoleRecorder:
		return "recorder"
	case RolePlayer:
		return "player"
	default:
		return "none"
	}
}

// State is a point in the state machine of spec §4.5:
//
//	Idle -> Recording -> Completed | Aborted
//	Idle -> Preparing -> Playing -> Done
type State int

const (
	StateIdle State = iota
	StateRecording
	StateCompleted
	StateAborted
	StatePreparing
	StatePlaying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StatePreparing:
		return "preparing"
	case StatePlaying:
		return "playing"
	case StateDone:
		return "done"
	default:
		return "idle"
	}
}

// Track holds the per-track handles a session accumulates: a writer while
// recording, or a frame index while playing.
type Track struct {
	Writer *mjr.Writer
	List   *indexer.FrameList
}

// Session is one peer's recording or playback state. The record-mutex
// (recordMu) serializes writes to this session's writers, per spec §5; the
// general mu guards the state machine and small scalar fields.
type Session struct {
	ID     string
	logger *slog.Logger

	Transport transport.Transport

	mu    sync.Mutex
	role  Role
	state State

	recordMu sync.Mutex
	Audio    Track
	Video    Track

	// Recording is a borrowed reference: for a recorder, the Recording this
	// session is building up; for a player, the Recording it replays.
	Recording *registry.Recording

	AudioPT uint8
	VideoPT uint8

	// Governor drives REMB/PLI feedback for a recording session's video
	// track (spec §4.7). nil for sessions that never negotiated video, or
	// for player sessions (which do not receive inbound media).
	Governor *feedback.Governor

	SDPVersion int

	// SimulcastBaseSSRC is non-zero once a simulcast offer has been
	// observed; inbound RTP from any other SSRC is then dropped (spec §4.4).
	SimulcastBaseSSRC uint32

	destroyed        atomic.Bool
	hangupInProgress atomic.Bool
}

// New creates an idle session with a fresh random id.
func New(role Role, tr transport.Transport, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		ID:        id,
		logger:    logger.With("component", "session", "session_id", id, "role", role.String()),
		Transport: tr,
		role:      role,
		state:     StateIdle,
	}
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Debug("state transition", "from", prev, "to", next)
}

// BeginRecording transitions Idle -> Recording. Called once record or
// record-process-answer has produced a valid SDP pair and opened writers.
func (s *Session) BeginRecording(rec *registry.Recording, audio, video Track) error {
	s.mu.Lock()
	if s.role != RoleRecorder {
		s.mu.Unlock()
		return fmt.Errorf("session: BeginRecording called on non-recorder session")
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("session: BeginRecording called from state %s", s.state)
	}
	s.state = StateRecording
	s.mu.Unlock()

	s.Recording = rec
	s.recordMu.Lock()
	s.Audio, s.Video = audio, video
	s.recordMu.Unlock()

	s.logger.Info("recording started")
	return nil
}

// BeginPreparing transitions Idle -> Preparing on a successful play request.
func (s *Session) BeginPreparing(rec *registry.Recording, audio, video Track) error {
	s.mu.Lock()
	if s.role != RolePlayer {
		s.mu.Unlock()
		return fmt.Errorf("session: BeginPreparing called on non-player session")
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("session: BeginPreparing called from state %s", s.state)
	}
	s.state = StatePreparing
	s.mu.Unlock()

	s.Recording = rec
	s.recordMu.Lock()
	s.Audio, s.Video = audio, video
	s.recordMu.Unlock()

	s.logger.Info("preparing playback")
	return nil
}

// BeginPlaying transitions Preparing -> Playing once start has been
// processed and the playout worker is ready to send.
func (s *Session) BeginPlaying() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePreparing {
		return fmt.Errorf("session: BeginPlaying called from state %s", s.state)
	}
	s.state = StatePlaying
	s.logger.Info("playback started")
	return nil
}

// Writers returns the current audio/video writers under the record-mutex,
// for code that appends RTP frames (the inbound RTP callback path).
func (s *Session) Writers() (audio, video *mjr.Writer) {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()
	return s.Audio.Writer, s.Video.Writer
}

// FrameLists returns the current audio/video frame indices for the playout
// worker.
func (s *Session) FrameLists() (audio, video *indexer.FrameList) {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()
	return s.Audio.List, s.Video.List
}

// HandleRTP is the entry point the transport's inbound callback drives for a
// recording session (spec §2: "inbound RTP from a recording peer enters the
// container codec through the session table, which selects the per-track
// writer"). kind selects which track the packet belongs to.
//
// Once a simulcast base SSRC has been fixed (spec §4.4), inbound video
// packets whose SSRC does not match it are silently dropped rather than
// written. Video packets that are written also drive the feedback governor.
func (s *Session) HandleRTP(pkt *rtp.Packet, kind mjr.Kind) error {
	if kind == mjr.KindVideo && s.SimulcastBaseSSRC != 0 && pkt.SSRC != s.SimulcastBaseSSRC {
		return nil
	}

	s.recordMu.Lock()
	var writer *mjr.Writer
	switch kind {
	case mjr.KindAudio:
		writer = s.Audio.Writer
	case mjr.KindVideo:
		writer = s.Video.Writer
	}
	if writer == nil {
		s.recordMu.Unlock()
		return nil
	}
	err := writer.SaveFrame(pkt)
	s.recordMu.Unlock()

	if err != nil {
		return fmt.Errorf("session: save %s frame: %w", kind, err)
	}

	if kind == mjr.KindVideo && s.Governor != nil {
		s.Governor.OnVideoPacket(time.Now())
	}
	return nil
}

func (s *Session) Destroyed() bool {
	return s.destroyed.Load()
}

// Hangup runs the teardown path exactly once, regardless of how many
// callers invoke it concurrently (spec §4.5's idempotence invariant). It
// closes writers, drops frame indices, removes the session from its
// Recording's viewer list, releases the Recording reference, and closes the
// transport.
func (s *Session) Hangup() error {
	if !s.hangupInProgress.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	role, state := s.role, s.state
	switch role {
	case RoleRecorder:
		if state == StateRecording {
			s.state = StateCompleted
		}
	case RolePlayer:
		s.state = StateDone
	}
	s.mu.Unlock()

	s.recordMu.Lock()
	if s.Audio.Writer != nil {
		if err := s.Audio.Writer.Close(); err != nil {
			s.logger.Warn("closing audio writer on hangup", "error", err)
		}
	}
	if s.Video.Writer != nil {
		if err := s.Video.Writer.Close(); err != nil {
			s.logger.Warn("closing video writer on hangup", "error", err)
		}
	}
	s.Audio = Track{}
	s.Video = Track{}
	s.recordMu.Unlock()

	if s.Recording != nil {
		if role == RoleRecorder {
			s.Recording.MarkCompleted()
		}
		s.Recording.RemoveViewer(s.ID)
		s.Recording.Release()
		s.Recording = nil
	}

	if s.Transport != nil {
		if err := s.Transport.Close(); err != nil {
			s.logger.Warn("closing transport on hangup", "error", err)
		}
	}

	s.destroyed.Store(true)
	s.logger.Info("hangup complete")
	return nil
}
