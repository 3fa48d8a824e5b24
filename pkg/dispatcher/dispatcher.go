// Package dispatcher implements the control-message dispatcher (spec §4.4):
// a bounded FIFO queue drained by a single worker that validates, routes,
// and executes recording/playback requests against the registry and
// session table.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethan/mjr-recordplay/pkg/codes"
	"github.com/ethan/mjr-recordplay/pkg/feedback"
	"github.com/ethan/mjr-recordplay/pkg/indexer"
	"github.com/ethan/mjr-recordplay/pkg/mjr"
	"github.com/ethan/mjr-recordplay/pkg/playout"
	"github.com/ethan/mjr-recordplay/pkg/registry"
	"github.com/ethan/mjr-recordplay/pkg/sdpgen"
	"github.com/ethan/mjr-recordplay/pkg/session"
)

// queueCapacity bounds the dispatcher's FIFO queue (spec §5).
const queueCapacity = 256

// defaultCodecs is the codec pair this implementation advertises in a
// plugin-authored record-generate-offer, before any peer SDP is known.
// spec.md is silent on what a generate-offer advertises; resolved here
// (see DESIGN.md) as this module's preferred codec pair.
var defaultCodecs = sdpgen.NegotiatedMedia{AudioCodec: "opus", VideoCodec: "VP8"}

// Response is the wire-level reply shape of spec §6.
type Response struct {
	Recordplay string             `json:"recordplay"`
	Result     *Result            `json:"result,omitempty"`
	List       []registry.Listing `json:"list,omitempty"`
	ErrorCode  int                `json:"error_code,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Result is the event payload carried by "ok"/"event" responses.
type Result struct {
	Status string `json:"status,omitempty"`
	ID     uint64 `json:"id,omitempty"`
	SDP    string `json:"sdp,omitempty"`
}

func errorResponse(err error) Response {
	var ce *codes.Error
	if e, ok := err.(*codes.Error); ok {
		ce = e
	} else {
		ce = codes.New(codes.Unknown, "%v", err)
	}
	return Response{Recordplay: "event", ErrorCode: int(ce.Code), Error: ce.Message}
}

type ticket struct {
	sess *session.Session
	raw  []byte
	resp chan Response
}

// Dispatcher owns the registry, session table, and bounded request queue.
type Dispatcher struct {
	logger         *slog.Logger
	registry       *registry.Registry
	sessions       *session.Table
	recordingsPath string

	configureLimiter *rate.Limiter

	queue  chan *ticket
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	playoutMu sync.Mutex
	playouts  map[string]*playout.Worker

	stats stats
}

type stats struct {
	totalEnqueued atomic.Int64
	totalHandled  atomic.Int64
	byRequest     sync.Map // request string -> *atomic.Int64
}

// Snapshot is the diagnostic view returned by Snapshot(); a supplemented
// feature (not part of the wire control-message surface), mirroring the
// teacher's CommandQueue.GetStats().
type Snapshot struct {
	QueueDepth    int              `json:"queue_depth"`
	TotalEnqueued int64            `json:"total_enqueued"`
	TotalHandled  int64            `json:"total_handled"`
	ByRequest     map[string]int64 `json:"by_request"`
}

// New constructs a Dispatcher. recordingsPath is the directory new
// recordings' MJR files are written to.
func New(reg *registry.Registry, sessions *session.Table, recordingsPath string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		logger:           logger.With("component", "dispatcher"),
		registry:         reg,
		sessions:         sessions,
		recordingsPath:   recordingsPath,
		configureLimiter: rate.NewLimiter(rate.Limit(5), 1),
		queue:            make(chan *ticket, queueCapacity),
		ctx:              ctx,
		cancel:           cancel,
		playouts:         make(map[string]*playout.Worker),
	}
	return d
}

// Start launches the single dispatcher worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.workerLoop()
	}()
}

// Stop cancels the dispatcher's context and waits for the worker to exit.
// No sentinel message is queued: requests still in the queue may be left
// unprocessed, and their Submit calls return an Unknown error.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// Submit enqueues a raw JSON control message for sess and blocks until the
// worker has processed it, returning the wire response.
func (d *Dispatcher) Submit(sess *session.Session, raw []byte) Response {
	t := &ticket{sess: sess, raw: raw, resp: make(chan Response, 1)}

	select {
	case d.queue <- t:
		d.stats.totalEnqueued.Add(1)
	case <-d.ctx.Done():
		return errorResponse(codes.New(codes.Unknown, "dispatcher is shutting down"))
	}

	select {
	case resp := <-t.resp:
		return resp
	case <-d.ctx.Done():
		return errorResponse(codes.New(codes.Unknown, "dispatcher is shutting down"))
	}
}

func (d *Dispatcher) workerLoop() {
	d.logger.Info("dispatcher worker started")
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("dispatcher worker stopped")
			return
		case t := <-d.queue:
			t.resp <- d.handle(t.sess, t.raw)
		}
	}
}

// Snapshot returns current queue/request-type counters.
func (d *Dispatcher) Snapshot() Snapshot {
	byRequest := make(map[string]int64)
	d.stats.byRequest.Range(func(key, value any) bool {
		byRequest[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return Snapshot{
		QueueDepth:    len(d.queue),
		TotalEnqueued: d.stats.totalEnqueued.Load(),
		TotalHandled:  d.stats.totalHandled.Load(),
		ByRequest:     byRequest,
	}
}

func (d *Dispatcher) countRequest(name string) {
	v, _ := d.stats.byRequest.LoadOrStore(name, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
	d.stats.totalHandled.Add(1)
}

func (d *Dispatcher) handle(sess *session.Session, raw []byte) Response {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return errorResponse(codes.New(codes.InvalidJSON, "invalid json: %v", err))
	}

	reqVal, ok := body["request"]
	if !ok {
		return errorResponse(codes.New(codes.MissingElement, "missing \"request\""))
	}
	reqName, ok := reqVal.(string)
	if !ok {
		return errorResponse(codes.New(codes.InvalidElement, "\"request\" must be a string"))
	}

	d.countRequest(reqName)

	var resp Response
	var err error
	switch reqName {
	case "list":
		resp = Response{Recordplay: "list", List: d.registry.List()}
	case "update":
		resp = Response{Recordplay: "ok", Result: &Result{Status: "ok"}}
	case "configure":
		resp, err = d.handleConfigure(sess, body)
	case "record":
		resp, err = d.handleRecord(sess, body, false)
	case "record-generate-offer":
		resp, err = d.handleRecordGenerateOffer(sess, body)
	case "record-process-answer":
		resp, err = d.handleRecord(sess, body, true)
	case "play":
		resp, err = d.handlePlay(sess, body)
	case "start":
		resp, err = d.handleStart(sess, body)
	case "stop":
		resp, err = d.handleStop(sess)
	default:
		err = codes.New(codes.InvalidRequest, "unrecognized request %q", reqName)
	}

	if err != nil {
		return errorResponse(err)
	}
	return resp
}

func stringField(body map[string]any, key string) (string, bool) {
	v, ok := body[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func uint64Field(body map[string]any, key string) (uint64, bool) {
	v, ok := body[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok || f < 0 {
		return 0, false
	}
	return uint64(f), true
}

func boolField(body map[string]any, key string) bool {
	v, ok := body[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (d *Dispatcher) handleConfigure(sess *session.Session, body map[string]any) (Response, error) {
	if d.configureLimiter.Allow() && sess != nil && sess.Governor != nil {
		if bitrate, ok := uint64Field(body, "target_bitrate"); ok {
			sess.Governor.SetTarget(bitrate)
		}
		if ms, ok := uint64Field(body, "keyframe_interval_ms"); ok {
			sess.Governor.SetKeyframeInterval(time.Duration(ms) * time.Millisecond)
		}
	}
	return Response{Recordplay: "configure", Result: &Result{Status: "ok"}}, nil
}

func (d *Dispatcher) handleRecord(sess *session.Session, body map[string]any, isAnswer bool) (Response, error) {
	if sess.Role() != session.RoleRecorder {
		return Response{}, codes.New(codes.InvalidState, "session is not a recorder")
	}

	sdpText, ok := stringField(body, "sdp")
	if !ok {
		return Response{}, codes.New(codes.MissingElement, "missing \"sdp\"")
	}

	sdpUpdate := boolField(body, "sdp_update") || boolField(body, "update")
	if sdpUpdate && sess.State() == session.StateRecording {
		sess.SDPVersion++
		media, err := sdpgen.ParseOfferOrAnswer(sdpText)
		if err != nil {
			return Response{}, codes.New(codes.InvalidSDP, "%v", err)
		}
		var answer string
		if !isAnswer {
			var err error
			answer, err = sdpgen.BuildAnswer(sdpText, media, sdpgen.ModeRecord)
			if err != nil {
				return Response{}, codes.New(codes.InvalidSDP, "%v", err)
			}
		}
		return Response{Recordplay: "event", Result: &Result{Status: "recording", ID: sess.Recording.ID, SDP: answer}}, nil
	}

	name, ok := stringField(body, "name")
	if !ok {
		return Response{}, codes.New(codes.MissingElement, "missing \"name\"")
	}

	media, err := sdpgen.ParseOfferOrAnswer(sdpText)
	if err != nil {
		return Response{}, codes.New(codes.InvalidSDP, "%v", err)
	}

	rec := registry.NewRecording(name)
	if media.HasAudio() {
		rec.AudioCodec = media.AudioCodec
	}
	if media.HasVideo() {
		rec.VideoCodec = media.VideoCodec
	}

	var id uint64
	if explicitID, has := uint64Field(body, "id"); has && explicitID != 0 {
		if err := d.registry.Insert(explicitID, rec); err != nil {
			return Response{}, codes.New(codes.RecordingExists, "recording id %d already exists", explicitID)
		}
		id = explicitID
	} else {
		id, err = d.registry.InsertGenerateID(rec)
		if err != nil {
			return Response{}, codes.New(codes.Unknown, "%v", err)
		}
	}

	baseName, _ := stringField(body, "filename")
	if baseName == "" {
		baseName = fmt.Sprintf("rec-%d", id)
	}

	var audioTrack, videoTrack session.Track
	if media.HasAudio() {
		rec.AudioPT = mjr.AudioPayloadType(media.AudioCodec)
		path := filepath.Join(d.recordingsPath, baseName+"-audio.mjr")
		w, err := mjr.NewWriter(path, mjr.KindAudio, media.AudioCodec, d.logger)
		if err != nil {
			d.registry.Remove(id)
			return Response{}, codes.New(codes.Unknown, "open audio writer: %v", err)
		}
		rec.AudioFile = path
		audioTrack = session.Track{Writer: w}
	}
	if media.HasVideo() {
		rec.VideoPT = mjr.VideoPayloadType
		path := filepath.Join(d.recordingsPath, baseName+"-video.mjr")
		w, err := mjr.NewWriter(path, mjr.KindVideo, media.VideoCodec, d.logger)
		if err != nil {
			d.registry.Remove(id)
			return Response{}, codes.New(codes.Unknown, "open video writer: %v", err)
		}
		rec.VideoFile = path
		videoTrack = session.Track{Writer: w}
	}

	if media.SimulcastBaseSSRC != 0 {
		sess.SimulcastBaseSSRC = media.SimulcastBaseSSRC
	}
	sess.AudioPT, sess.VideoPT = rec.AudioPT, rec.VideoPT

	if err := sess.BeginRecording(rec, audioTrack, videoTrack); err != nil {
		if audioTrack.Writer != nil {
			audioTrack.Writer.Close()
		}
		if videoTrack.Writer != nil {
			videoTrack.Writer.Close()
		}
		d.registry.Remove(id)
		return Response{}, codes.New(codes.InvalidState, "%v", err)
	}

	if playOffer, err := sdpgen.BuildOffer(media, sdpgen.ModePlay); err == nil {
		rec.Offer = playOffer
	} else {
		d.logger.Warn("failed to precompute viewer offer", "error", err)
	}

	if media.HasVideo() {
		sess.Governor = feedback.New(sess.Transport, media.SimulcastBaseSSRC, 1_000_000, feedback.DefaultKeyframeInterval, d.logger)
	}

	var answer string
	if !isAnswer {
		answer, err = sdpgen.BuildAnswer(sdpText, media, sdpgen.ModeRecord)
		if err != nil {
			return Response{}, codes.New(codes.InvalidSDP, "%v", err)
		}
	} else if sdpUpdate {
		answer, err = sdpgen.BuildAnswer(sdpText, media, sdpgen.ModeRecord)
		if err != nil {
			return Response{}, codes.New(codes.InvalidSDP, "%v", err)
		}
	}

	return Response{Recordplay: "event", Result: &Result{Status: "recording", ID: id, SDP: answer}}, nil
}

func (d *Dispatcher) handleRecordGenerateOffer(sess *session.Session, body map[string]any) (Response, error) {
	if sess.Role() != session.RoleRecorder {
		return Response{}, codes.New(codes.InvalidState, "session is not a recorder")
	}
	offer, err := sdpgen.BuildOffer(defaultCodecs, sdpgen.ModeRecord)
	if err != nil {
		return Response{}, codes.New(codes.Unknown, "%v", err)
	}
	return Response{Recordplay: "event", Result: &Result{Status: "recording", SDP: offer}}, nil
}

func (d *Dispatcher) handlePlay(sess *session.Session, body map[string]any) (Response, error) {
	if sess.Role() != session.RolePlayer {
		return Response{}, codes.New(codes.InvalidState, "session is not a player")
	}
	if _, hasSDP := stringField(body, "sdp"); hasSDP {
		return Response{}, codes.New(codes.InvalidRequest, "play must not carry an sdp")
	}
	id, ok := uint64Field(body, "id")
	if !ok {
		return Response{}, codes.New(codes.MissingElement, "missing \"id\"")
	}

	rec, err := d.registry.Lookup(id)
	if err != nil {
		return Response{}, codes.New(codes.NotFound, "recording %d not found", id)
	}
	if rec.Destroyed() || rec.Offer == "" {
		rec.Release()
		return Response{}, codes.New(codes.NotFound, "recording %d not playable", id)
	}

	var audioList, videoList *indexer.FrameList
	var audioErr, videoErr error
	if rec.AudioFile != "" {
		audioList, audioErr = indexer.BuildIndex(rec.AudioFile, d.logger)
	}
	if rec.VideoFile != "" {
		videoList, videoErr = indexer.BuildIndex(rec.VideoFile, d.logger)
	}
	if audioErr != nil && videoErr != nil {
		rec.Release()
		return Response{}, codes.New(codes.InvalidRecording, "could not index any track")
	}
	if audioErr != nil {
		d.logger.Warn("audio track failed to index, continuing with video only", "error", audioErr)
	}
	if videoErr != nil {
		d.logger.Warn("video track failed to index, continuing with audio only", "error", videoErr)
	}

	if err := sess.BeginPreparing(rec, session.Track{List: audioList}, session.Track{List: videoList}); err != nil {
		rec.Release()
		return Response{}, codes.New(codes.InvalidState, "%v", err)
	}
	rec.AddViewer(sess.ID)

	return Response{Recordplay: "event", Result: &Result{Status: "preparing", ID: id, SDP: rec.Offer}}, nil
}

func (d *Dispatcher) handleStart(sess *session.Session, body map[string]any) (Response, error) {
	if sess.Role() != session.RolePlayer || sess.State() != session.StatePreparing {
		return Response{}, codes.New(codes.InvalidState, "session is not preparing")
	}
	if _, ok := stringField(body, "sdp"); !ok {
		return Response{}, codes.New(codes.MissingElement, "missing \"sdp\" answer")
	}

	audioList, videoList := sess.FrameLists()
	if audioList == nil && videoList == nil {
		return Response{}, codes.New(codes.InvalidState, "no indexed track loaded")
	}

	if err := sess.BeginPlaying(); err != nil {
		return Response{}, codes.New(codes.InvalidState, "%v", err)
	}

	rec := sess.Recording
	worker := playout.NewWorker(sess, sess.Transport, d.logger)
	var audioSrc, videoSrc playout.TrackSource
	if audioList != nil {
		audioSrc = playout.TrackSource{Path: rec.AudioFile, ClockRate: mjr.AudioClockRate(rec.AudioCodec), PayloadType: rec.AudioPT}
	}
	if videoList != nil {
		videoSrc = playout.TrackSource{Path: rec.VideoFile, ClockRate: mjr.VideoClockRate, PayloadType: rec.VideoPT}
	}
	worker.Start(audioSrc, videoSrc)

	d.playoutMu.Lock()
	d.playouts[sess.ID] = worker
	d.playoutMu.Unlock()

	return Response{Recordplay: "event", Result: &Result{Status: "playing", ID: rec.ID}}, nil
}

func (d *Dispatcher) handleStop(sess *session.Session) (Response, error) {
	d.playoutMu.Lock()
	worker, ok := d.playouts[sess.ID]
	if ok {
		delete(d.playouts, sess.ID)
	}
	d.playoutMu.Unlock()
	if ok {
		worker.Stop()
	}

	if err := sess.Hangup(); err != nil {
		return Response{}, codes.New(codes.Unknown, "%v", err)
	}
	d.sessions.Remove(sess.ID)

	return Response{Recordplay: "event", Result: &Result{Status: "stopped"}}, nil
}
