package mjr

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Record is one decoded frame record: its RTP payload bytes and the byte
// offset of that payload within the file (used by the indexer to build
// frame-record offsets, spec §3).
type Record struct {
	Payload []byte
	Offset  int64
}

// Reader sequentially decodes records from an MJR file (spec §4.1),
// transparently handling both the legacy and current tag families and
// skipping non-RTP side-data records that may appear after the header.
type Reader struct {
	logger *slog.Logger
	file   *os.File
	offset int64

	Kind  Kind
	Codec string
	Info  InfoHeader // zero value for legacy-format files
}

// Open reads and validates the first record (the header) and returns a
// Reader positioned to decode subsequent RTP records with Next.
func Open(path string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mjr file: %w", err)
	}

	r := &Reader{
		logger: logger.With("component", "mjr.reader", "path", path),
		file:   f,
	}

	if err := r.readHeader(); err != nil {
		f.Close()
		return nil, err
	}

	r.logger.Info("mjr reader opened", "kind", r.Kind, "codec", r.Codec)
	return r, nil
}

func (r *Reader) readHeader() error {
	hdr, payload, err := r.readRecord()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty file", ErrInvalidHeader)
		}
		return err
	}

	if hdr.Tag[0] != 'M' {
		return fmt.Errorf("%w: does not start with 'M'", ErrInvalidHeader)
	}

	switch {
	case isLegacyFamily(hdr.Tag):
		if len(payload) != 5 {
			return fmt.Errorf("%w: legacy header must be 5 bytes", ErrInvalidHeader)
		}
		switch payload[0] {
		case 'v':
			r.Kind = KindVideo
			r.Codec = "vp8"
		case 'a':
			r.Kind = KindAudio
			r.Codec = "opus"
		default:
			return fmt.Errorf("%w: legacy header first byte must be 'v' or 'a'", ErrInvalidHeader)
		}
		return nil

	case isCurrentFamily(hdr.Tag):
		info, err := parseInfoHeader(payload)
		if err != nil {
			return err
		}
		r.Kind = info.Type
		r.Codec = info.Codec
		r.Info = info
		return nil

	default:
		return fmt.Errorf("%w: unrecognized tag family", ErrInvalidHeader)
	}
}

// Next returns the next RTP record, skipping any non-RTP side-data records
// (length < 12 bytes, or a current-family tag other than the canonical
// frame tag) transparently. Returns io.EOF when the file is exhausted.
func (r *Reader) Next() (Record, error) {
	for {
		hdr, payload, err := r.readRecordAt()
		if err != nil {
			return Record{}, err
		}

		if isSideData(hdr.tag, len(payload)) {
			r.logger.Debug("skipping non-rtp side-data record",
				"length", len(payload))
			continue
		}

		return Record{Payload: payload, Offset: hdr.payloadOffset}, nil
	}
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

type recordWithOffset struct {
	tag           [tagSize]byte
	payloadOffset int64
}

func isSideData(tag [tagSize]byte, length int) bool {
	if length < minRTPRecordLength {
		return true
	}
	if isCurrentFamily(tag) && tag != currentTag {
		return true
	}
	return false
}

// readRecord reads one record header + payload from the current offset,
// used only for the very first (header) record.
func (r *Reader) readRecord() (recordHeader, []byte, error) {
	hdr, payload, err := r.readRecordAt()
	if err != nil {
		return recordHeader{}, nil, err
	}
	return recordHeader{Tag: hdr.tag, Length: uint16(len(payload))}, payload, nil
}

func (r *Reader) readRecordAt() (recordWithOffset, []byte, error) {
	hdrBuf := make([]byte, headerSize)
	n, err := io.ReadFull(r.file, hdrBuf)
	if err != nil {
		if err == io.ErrUnexpectedEOF || n == 0 {
			if err == io.ErrUnexpectedEOF {
				return recordWithOffset{}, nil, fmt.Errorf("mjr: truncated record header: %w", io.ErrUnexpectedEOF)
			}
			return recordWithOffset{}, nil, io.EOF
		}
		return recordWithOffset{}, nil, err
	}
	r.offset += int64(len(hdrBuf))

	hdr := decodeRecordHeader(hdrBuf)
	payloadOffset := r.offset

	payload := make([]byte, hdr.Length)
	if hdr.Length > 0 {
		if _, err := io.ReadFull(r.file, payload); err != nil {
			return recordWithOffset{}, nil, fmt.Errorf("mjr: truncated record payload: %w", err)
		}
	}
	r.offset += int64(hdr.Length)

	return recordWithOffset{tag: hdr.Tag, payloadOffset: payloadOffset}, payload, nil
}
