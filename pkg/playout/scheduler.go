// Package playout implements the playout scheduler (spec §4.6): one worker
// per playing session that re-sends a recording's indexed frames to the
// transport with timing reconstructed from each track's RTP clock rate.
package playout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/ethan/mjr-recordplay/pkg/indexer"
	"github.com/ethan/mjr-recordplay/pkg/session"
	"github.com/ethan/mjr-recordplay/pkg/transport"
)

// idleSleep is how long the worker sleeps when neither track had a packet
// due this iteration.
const idleSleep = 5 * time.Millisecond

// earlyTolerance lets a packet send up to 5ms before its computed due time,
// matching spec §4.6's "elapsed < (Δts − 5ms)" not-yet-due test.
const earlyTolerance = 5 * time.Millisecond

// TrackSource is one track's file path, clock rate, and rewritten payload
// type, as resolved by whatever built the session's frame indices.
type TrackSource struct {
	Path        string
	ClockRate   uint32
	PayloadType uint8
}

// Worker paces one session's audio and video frame lists back to its
// transport.
type Worker struct {
	logger  *slog.Logger
	session *session.Session
	tr      transport.Transport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a Worker for sess. Start must be called to start it.
func NewWorker(sess *session.Session, tr transport.Transport, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		logger:  logger.With("component", "playout", "session_id", sess.ID),
		session: sess,
		tr:      tr,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker loop in its own goroutine.
func (w *Worker) Start(audio, video TrackSource) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.run(audio, video); err != nil {
			w.logger.Warn("playout worker exited with error", "error", err)
		}
	}()
}

// Stop signals the worker to exit at its next loop iteration and waits for
// it to finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

type trackCursor struct {
	name        string
	list        *indexer.FrameList
	reader      *indexer.PayloadReader
	cur         *indexer.Frame
	clockRate   uint32
	payloadType uint8

	started   bool
	before    time.Time
	lastExtTS uint64
}

func newTrackCursor(name string, list *indexer.FrameList, src TrackSource) (*trackCursor, error) {
	if list == nil || list.Head == nil {
		return nil, nil
	}
	reader, err := indexer.OpenPayloadReader(src.Path)
	if err != nil {
		return nil, fmt.Errorf("playout: open %s track: %w", name, err)
	}
	return &trackCursor{
		name:        name,
		list:        list,
		reader:      reader,
		cur:         list.Head,
		clockRate:   src.ClockRate,
		payloadType: src.PayloadType,
	}, nil
}

func (c *trackCursor) exhausted() bool {
	return c == nil || c.cur == nil
}

func (c *trackCursor) close() {
	if c != nil && c.reader != nil {
		c.reader.Close()
	}
}

// due reports whether c's current frame should be sent now, given the
// elapsed wall-clock time since its `before` anchor (spec §4.6).
func (c *trackCursor) due(now time.Time) bool {
	if c.exhausted() {
		return false
	}
	if !c.started {
		return true
	}
	deltaTS := c.cur.ExtTS - c.lastExtTS
	deltaDuration := time.Duration(deltaTS) * time.Second / time.Duration(c.clockRate)
	elapsed := now.Sub(c.before)
	return elapsed >= deltaDuration-earlyTolerance
}

// send emits the current frame (rewriting its payload type), advances
// `before` by the frame's Δts (or sets it on the first send), and moves the
// cursor to the next frame.
func (c *trackCursor) send(tr transport.Transport, logger *slog.Logger) error {
	raw, err := c.reader.ReadFrame(c.cur)
	if err != nil {
		return fmt.Errorf("read %s frame: %w", c.name, err)
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return fmt.Errorf("unmarshal %s frame: %w", c.name, err)
	}
	pkt.PayloadType = c.payloadType

	if err := tr.SendRTP(&pkt); err != nil {
		return fmt.Errorf("send %s frame: %w", c.name, err)
	}

	now := time.Now()
	if !c.started {
		c.started = true
		c.before = now
	} else {
		deltaTS := c.cur.ExtTS - c.lastExtTS
		deltaDuration := time.Duration(deltaTS) * time.Second / time.Duration(c.clockRate)
		c.before = c.before.Add(deltaDuration)
	}
	c.lastExtTS = c.cur.ExtTS
	c.cur = c.cur.Next
	return nil
}

func (w *Worker) run(audioSrc, videoSrc TrackSource) error {
	audioList, videoList := w.session.FrameLists()

	audio, err := newTrackCursor("audio", audioList, audioSrc)
	if err != nil {
		return err
	}
	video, err := newTrackCursor("video", videoList, videoSrc)
	if err != nil {
		return err
	}
	defer audio.close()
	defer video.close()

	w.logger.Info("playout worker started")

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("playout worker stopped (context cancelled)")
			return nil
		default:
		}

		if w.session.Destroyed() {
			w.logger.Info("playout worker stopped (session destroyed)")
			return nil
		}

		if audio.exhausted() && video.exhausted() {
			w.logger.Info("playout worker finished (both tracks exhausted)")
			return nil
		}

		now := time.Now()
		sentSomething := false

		if !audio.exhausted() && audio.due(now) {
			if err := audio.send(w.tr, w.logger); err != nil {
				w.logger.Warn("audio send failed", "error", err)
			}
			sentSomething = true
		}

		if !video.exhausted() && video.due(now) {
			if err := video.send(w.tr, w.logger); err != nil {
				w.logger.Warn("video send failed", "error", err)
			} else {
				// Coalesce trailing packets of the same video frame (spec §4.6).
				for !video.exhausted() && video.cur.ExtTS == video.lastExtTS {
					if err := video.send(w.tr, w.logger); err != nil {
						w.logger.Warn("video coalesce send failed", "error", err)
						break
					}
				}
			}
			sentSomething = true
		}

		if !sentSomething {
			time.Sleep(idleSleep)
		}
	}
}
