// Package registry implements the recording registry: the shared,
// lock-guarded table of completed and in-progress Recordings (spec §4.3).
package registry

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// maxIDAttempts bounds the collision-retry loop for fresh id allocation.
const maxIDAttempts = 64

// Recording is one persisted or in-progress recording. Fields set at
// creation are immutable; Completed/Destroyed and the viewer list change
// over the recording's life and are synchronized independently.
type Recording struct {
	ID      uint64
	Name    string
	Created time.Time

	AudioFile  string
	VideoFile  string
	AudioCodec string
	VideoCodec string
	AudioPT    uint8
	VideoPT    uint8

	// Offer is the cached plugin-authored SDP offer returned to players.
	Offer string

	mu        sync.Mutex
	completed bool
	destroyed bool
	viewers   []string
	refCount  int32
}

// NewRecording constructs a Recording with an initial reference count of 1,
// owned by the caller (typically the registry itself on Insert).
func NewRecording(name string) *Recording {
	return &Recording{
		Name:     name,
		Created:  time.Now(),
		refCount: 1,
	}
}

func (r *Recording) HasAudio() bool { return r.AudioFile != "" }
func (r *Recording) HasVideo() bool { return r.VideoFile != "" }

// MarkCompleted flips the recording to completed, making it eligible for
// List.
func (r *Recording) MarkCompleted() {
	r.mu.Lock()
	r.completed = true
	r.mu.Unlock()
}

func (r *Recording) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// MarkDestroyed flags the recording as torn down; existing references may
// still be held but no new viewers should be attached.
func (r *Recording) MarkDestroyed() {
	r.mu.Lock()
	r.destroyed = true
	r.mu.Unlock()
}

func (r *Recording) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// AddViewer appends a session id to the viewer list if not already present.
func (r *Recording) AddViewer(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.viewers {
		if id == sessionID {
			return
		}
	}
	r.viewers = append(r.viewers, sessionID)
}

// RemoveViewer removes a session id from the viewer list.
func (r *Recording) RemoveViewer(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range r.viewers {
		if id == sessionID {
			r.viewers = append(r.viewers[:i], r.viewers[i+1:]...)
			return
		}
	}
}

// Viewers returns a snapshot of the current viewer session ids.
func (r *Recording) Viewers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.viewers))
	copy(out, r.viewers)
	return out
}

// Retain increments the reference count held on behalf of a new borrower
// (e.g. a Lookup or a new viewer session) and returns the resulting count.
func (r *Recording) Retain() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount++
	return r.refCount
}

// Release decrements the reference count, returning the resulting count.
// Callers never free the Recording directly on reaching zero; Go's
// collector reclaims it once every holder, including the registry's own
// map entry, has released.
func (r *Recording) Release() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount--
	return r.refCount
}

// Listing is the read-only snapshot returned by Registry.List.
type Listing struct {
	ID         uint64
	Name       string
	Created    time.Time
	Audio      bool
	Video      bool
	AudioCodec string
	VideoCodec string
}

// Registry is the process-wide table of Recordings, keyed by id.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	recordings map[uint64]*Recording
}

// New constructs an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:     logger.With("component", "registry"),
		recordings: make(map[uint64]*Recording),
	}
}

// Insert adds rec under id, failing with ErrConflict if it already exists.
func (reg *Registry) Insert(id uint64, rec *Recording) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.recordings[id]; exists {
		return fmt.Errorf("%w: id %d", ErrConflict, id)
	}
	rec.ID = id
	reg.recordings[id] = rec
	return nil
}

// InsertGenerateID allocates a fresh random 64-bit id not already present,
// retrying on collision, and inserts rec under it. This is atomic with the
// id-allocation loop per spec §4.3/§4.4.
func (reg *Registry) InsertGenerateID(rec *Recording) (uint64, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := randomID()
		if err != nil {
			return 0, fmt.Errorf("registry: generate id: %w", err)
		}
		if id == 0 {
			continue
		}
		if _, exists := reg.recordings[id]; exists {
			continue
		}
		rec.ID = id
		reg.recordings[id] = rec
		return id, nil
	}
	return 0, fmt.Errorf("registry: exhausted id allocation attempts after %d tries", maxIDAttempts)
}

// Lookup returns a borrowed Recording (its reference count incremented) or
// ErrNotFound. Callers must call Release when done with the borrow.
func (reg *Registry) Lookup(id uint64) (*Recording, error) {
	reg.mu.RLock()
	rec, ok := reg.recordings[id]
	reg.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	rec.Retain()
	return rec, nil
}

// Remove drops id from the table and releases the registry's own
// reference. The Recording object survives until every other holder has
// also released it.
func (reg *Registry) Remove(id uint64) error {
	reg.mu.Lock()
	rec, ok := reg.recordings[id]
	if ok {
		delete(reg.recordings, id)
	}
	reg.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	rec.MarkDestroyed()
	rec.Release()
	return nil
}

// List returns a snapshot of completed, non-destroyed Recordings sorted by
// id, for deterministic output.
func (reg *Registry) List() []Listing {
	reg.mu.RLock()
	snapshot := make([]*Recording, 0, len(reg.recordings))
	for _, rec := range reg.recordings {
		snapshot = append(snapshot, rec)
	}
	reg.mu.RUnlock()

	out := make([]Listing, 0, len(snapshot))
	for _, rec := range snapshot {
		rec.mu.Lock()
		completed, destroyed := rec.completed, rec.destroyed
		rec.mu.Unlock()
		if !completed || destroyed {
			continue
		}
		out = append(out, Listing{
			ID:         rec.ID,
			Name:       rec.Name,
			Created:    rec.Created,
			Audio:      rec.HasAudio(),
			Video:      rec.HasVideo(),
			AudioCodec: rec.AudioCodec,
			VideoCodec: rec.VideoCodec,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func randomID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
