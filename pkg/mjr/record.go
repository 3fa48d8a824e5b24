// Package mjr implements the MJR container codec: a reader and writer for
// framed RTP recordings, including the JSON info header and variable-length
// frame records (spec §4.1). A file is a sequence of records, each an 8-byte
// ASCII tag, a 16-bit big-endian length, and that many bytes of payload.
package mjr

import "encoding/binary"

const (
	tagSize    = 8
	lenSize    = 2
	headerSize = tagSize + lenSize

	// minRTPRecordLength is the smallest payload that could plausibly hold
	// a raw RTP packet (12-byte fixed header, zero-length payload).
	minRTPRecordLength = 12
)

// legacyTag is the 8-byte tag of the single legacy header record. Its family
// is identified by the first byte being 'M' and the second 'E'; the
// remaining six bytes are not otherwise significant, kept fixed here for a
// stable on-disk signature.
var legacyTag = [tagSize]byte{'M', 'E', 'D', 'I', 'A', 'R', 'E', 'C'}

// currentTag is the tag written for both the info header and every RTP
// frame record in the current format. Its family is identified by the first
// two bytes 'M', 'J'.
var currentTag = [tagSize]byte{'M', 'J', 'R', '0', '0', '0', '0', '2'}

// Kind identifies the media kind of a recorded track.
type Kind string

const (
	KindAudio Kind = "a"
	KindVideo Kind = "v"
)

func isLegacyFamily(tag [tagSize]byte) bool {
	return tag[0] == 'M' && tag[1] == 'E'
}

func isCurrentFamily(tag [tagSize]byte) bool {
	return tag[0] == 'M' && tag[1] == 'J'
}

// recordHeader is the 8-byte tag + 16-bit big-endian length prefix shared by
// every record in both tag families.
type recordHeader struct {
	Tag    [tagSize]byte
	Length uint16
}

func encodeRecordHeader(tag [tagSize]byte, length uint16) []byte {
	buf := make([]byte, headerSize)
	copy(buf[:tagSize], tag[:])
	binary.BigEndian.PutUint16(buf[tagSize:], length)
	return buf
}

func decodeRecordHeader(buf []byte) recordHeader {
	var h recordHeader
	copy(h.Tag[:], buf[:tagSize])
	h.Length = binary.BigEndian.Uint16(buf[tagSize:headerSize])
	return h
}
