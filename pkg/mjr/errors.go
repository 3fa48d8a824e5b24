package mjr

import "errors"

// Sentinel errors returned by Open when a file violates the MJR container
// contract (spec §4.1), and by the Writer as noted below. Callers compare
// with errors.Is.
var (
	// ErrInvalidHeader is returned when the first 8 bytes of a file do not
	// begin with 'M', or a legacy header's payload isn't exactly 5 bytes
	// starting with 'v' or 'a'.
	ErrInvalidHeader = errors.New("mjr: invalid header")

	// ErrInvalidJSON is returned when a current-format info header's
	// payload does not parse as a JSON object.
	ErrInvalidJSON = errors.New("mjr: invalid info header json")

	// ErrMissingField is returned when the info header JSON object is
	// missing the required "t" or "c" key, or the key has the wrong type.
	ErrMissingField = errors.New("mjr: missing required field")

	// ErrUnsupportedCodec is returned when the info header (or NewWriter's
	// codec argument) names a codec not present in the preferred-codec table.
	ErrUnsupportedCodec = errors.New("mjr: unsupported codec")

	// ErrSealed is returned by Writer.SaveFrame after Close has been called.
	ErrSealed = errors.New("mjr: writer is sealed")
)
