package mjr

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Writer appends RTP frame records to a current-format MJR file. Opening a
// writer atomically creates the target file and emits the info header;
// closing flushes and seals it. Writers are independent per track — a
// session with both an audio and a video track uses two Writers.
type Writer struct {
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	bw     *bufio.Writer
	sealed bool
}

// NewWriter creates path exclusively (failing if it already exists),
// writes the info header for kind/codec, and returns a Writer ready for
// SaveFrame calls.
func NewWriter(path string, kind Kind, codec string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	canonical, ok := MatchCodec(codec)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create mjr file: %w", err)
	}

	w := &Writer{
		logger: logger.With("component", "mjr.writer", "path", path),
		file:   f,
		bw:     bufio.NewWriter(f),
	}

	header := InfoHeader{
		Type:    kind,
		Codec:   canonical,
		Created: time.Now().UnixMicro(),
	}
	payload, err := header.marshal()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("marshal info header: %w", err)
	}
	if err := w.writeRecord(currentTag, payload); err != nil {
		f.Close()
		return nil, fmt.Errorf("write info header: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush info header: %w", err)
	}

	w.logger.Info("mjr writer opened", "kind", kind, "codec", canonical)
	return w, nil
}

// SaveFrame appends one RTP packet as a frame record. The packet is
// marshaled to wire format and written verbatim; the indexer later
// reconstructs ordering from the bytes this writes.
func (w *Writer) SaveFrame(pkt *rtp.Packet) error {
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp packet: %w", err)
	}
	return w.SaveRaw(raw)
}

// SaveRaw appends an already-serialized RTP packet verbatim.
func (w *Writer) SaveRaw(raw []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sealed {
		return ErrSealed
	}
	if err := w.writeRecord(currentTag, raw); err != nil {
		w.logger.Error("failed to write frame", "error", err)
		return err
	}
	return w.bw.Flush()
}

// writeRecord writes the 8-byte tag + 16-bit length header followed by
// payload. Caller holds w.mu (or calls during construction before any
// other goroutine has a reference).
func (w *Writer) writeRecord(tag [tagSize]byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("mjr: record payload too large (%d bytes)", len(payload))
	}
	if _, err := w.bw.Write(encodeRecordHeader(tag, uint16(len(payload)))); err != nil {
		return err
	}
	_, err := w.bw.Write(payload)
	return err
}

// Close flushes and seals the writer. A sealed writer rejects further
// frames via ErrSealed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sealed {
		return nil
	}
	w.sealed = true

	flushErr := w.bw.Flush()
	closeErr := w.file.Close()
	w.logger.Info("mjr writer closed")

	if flushErr != nil {
		return fmt.Errorf("flush on close: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close file: %w", closeErr)
	}
	return nil
}
