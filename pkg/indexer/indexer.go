// Package indexer builds an ordered, doubly-linked frame list from an MJR
// recording, reconstructing temporal order across RTP timestamp resets and
// sequence-number wraps (spec §4.2).
package indexer

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pion/rtp"

	"github.com/ethan/mjr-recordplay/pkg/mjr"
)

// resetBackwardThreshold is the minimum backward timestamp jump that is
// treated as a clock reset rather than ordinary packet reordering.
const resetBackwardThreshold = 2_000_000_000

// wrapThreshold bounds how large a sequence-number difference can be before
// it is attributed to 16-bit wraparound rather than genuine reordering.
const wrapThreshold = 10000

// Frame is one entry in a FrameList: a decoded record's sequencing metadata
// plus the byte range needed to read its payload back from the MJR file.
type Frame struct {
	Seq    uint16
	ExtTS  uint64
	Length int
	Offset int64

	Prev *Frame
	Next *Frame
}

// FrameList is a doubly-linked, extended-timestamp-ordered list of frames.
type FrameList struct {
	Head *Frame
	Tail *Frame
	Len  int

	Kind  mjr.Kind
	Codec string
}

// BuildIndex opens path, reads every RTP record, and returns the ordered
// FrameList. It never retains the file handle past the call.
func BuildIndex(path string, logger *slog.Logger) (*FrameList, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r, err := mjr.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	defer r.Close()

	var records []parsedRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("indexer: read record: %w", err)
		}

		var hdr rtp.Header
		if _, err := hdr.Unmarshal(rec.Payload); err != nil {
			logger.Warn("skipping unparseable rtp record", "error", err, "offset", rec.Offset)
			continue
		}

		records = append(records, parsedRecord{
			seq:    hdr.SequenceNumber,
			ts:     hdr.Timestamp,
			length: len(rec.Payload),
			offset: rec.Offset,
		})
	}

	list := &FrameList{Kind: r.Kind, Codec: r.Codec}
	if len(records) == 0 {
		return list, nil
	}

	resetDetected, resetValue, firstTS := detectReset(records)

	for _, rec := range records {
		ext := extendedTimestamp(rec.ts, resetDetected, firstTS)
		insert(list, &Frame{
			Seq:    rec.seq,
			ExtTS:  ext,
			Length: rec.length,
			Offset: rec.offset,
		})
	}

	logger.Debug("built frame index", "frames", list.Len, "reset_detected", resetDetected, "reset_value", resetValue)
	return list, nil
}

// ReadFramePayload re-reads a frame's RTP payload bytes directly from the
// MJR file by byte offset, without building a new index or keeping a file
// handle open. Prefer PayloadReader when reading many frames from the same
// file, as the playout scheduler does.
func ReadFramePayload(path string, f *Frame) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("indexer: open for payload read: %w", err)
	}
	defer file.Close()

	buf := make([]byte, f.Length)
	if _, err := file.ReadAt(buf, f.Offset); err != nil {
		return nil, fmt.Errorf("indexer: read payload at offset %d: %w", f.Offset, err)
	}
	return buf, nil
}

// PayloadReader keeps one file open across many frame reads — the playout
// scheduler opens one per present track for the life of the session (spec
// §4.6) rather than reopening the file for every packet.
type PayloadReader struct {
	file *os.File
}

// OpenPayloadReader opens path for read-only random access.
func OpenPayloadReader(path string) (*PayloadReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("indexer: open payload reader: %w", err)
	}
	return &PayloadReader{file: file}, nil
}

// ReadFrame reads f's payload bytes from the already-open file.
func (p *PayloadReader) ReadFrame(f *Frame) ([]byte, error) {
	buf := make([]byte, f.Length)
	if _, err := p.file.ReadAt(buf, f.Offset); err != nil {
		return nil, fmt.Errorf("indexer: read payload at offset %d: %w", f.Offset, err)
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (p *PayloadReader) Close() error {
	return p.file.Close()
}

type parsedRecord struct {
	seq    uint16
	ts     uint32
	length int
	offset int64
}

// detectReset is pass 1: walk every record in file order looking for a
// backward timestamp jump large enough to be a clock reset rather than
// ordinary reordering, per spec §4.2.
func detectReset(records []parsedRecord) (detected bool, resetValue, firstTS uint32) {
	firstTS = records[0].ts - 1_000_000

	lastTS := records[0].ts
	for _, rec := range records[1:] {
		ts := rec.ts
		if !detected {
			if int64(lastTS)-int64(ts) > resetBackwardThreshold {
				detected = true
				resetValue = ts
			}
		} else if ts < resetValue {
			resetValue = ts
		}
		lastTS = ts
	}
	return detected, resetValue, firstTS
}

// extendedTimestamp is pass 2's per-packet extension: lifts the raw 32-bit
// timestamp into a 64-bit space where post-reset packets sort after
// pre-reset packets regardless of file order.
func extendedTimestamp(raw uint32, resetDetected bool, firstTS uint32) uint64 {
	switch {
	case !resetDetected:
		return uint64(raw)
	case raw > firstTS:
		return uint64(raw)
	default:
		return uint64(raw) + (1 << 32)
	}
}

// insert walks backward from the tail to find f's position, per spec §4.2's
// insertion rule, and links it in.
func insert(list *FrameList, f *Frame) {
	defer func() { list.Len++ }()

	if list.Tail == nil {
		list.Head, list.Tail = f, f
		return
	}

	for cur := list.Tail; cur != nil; cur = cur.Prev {
		if cur.ExtTS < f.ExtTS {
			insertAfter(list, cur, f)
			return
		}
		if cur.ExtTS == f.ExtTS && sequenceAfter(cur.Seq, f.Seq) {
			insertAfter(list, cur, f)
			return
		}
	}

	prepend(list, f)
}

// sequenceAfter reports whether a packet with seq new logically follows a
// packet with seq candidate, using the wrap-aware comparison of spec §4.2.
func sequenceAfter(candidate, new uint16) bool {
	diff := int(candidate) - int(new)
	if diff < 0 {
		diff = -diff
	}
	if candidate < new && diff < wrapThreshold {
		return true
	}
	if candidate > new && diff > wrapThreshold {
		return true
	}
	return false
}

func insertAfter(list *FrameList, cur, f *Frame) {
	f.Prev = cur
	f.Next = cur.Next
	if cur.Next != nil {
		cur.Next.Prev = f
	} else {
		list.Tail = f
	}
	cur.Next = f
}

func prepend(list *FrameList, f *Frame) {
	f.Next = list.Head
	f.Prev = nil
	if list.Head != nil {
		list.Head.Prev = f
	}
	list.Head = f
	if list.Tail == nil {
		list.Tail = f
	}
}
