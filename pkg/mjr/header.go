package mjr

import (
	"encoding/json"
	"fmt"
)

// InfoHeader is the JSON object carried by the first record of a
// current-format file (spec §4.1).
type InfoHeader struct {
	// Type is "a" (audio) or "v" (video).
	Type Kind `json:"t"`
	// Codec is the codec name, matched against the preferred-codec table.
	Codec string `json:"c"`
	// Created is the creation time in microseconds since the epoch.
	Created int64 `json:"s,omitempty"`
	// FirstWrite is the first-write time in microseconds since the epoch.
	FirstWrite int64 `json:"u,omitempty"`
}

// parseInfoHeader validates and decodes a current-format info header
// payload, applying the field rules from spec §4.1.
func parseInfoHeader(payload []byte) (InfoHeader, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return InfoHeader{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	tVal, ok := raw["t"]
	if !ok {
		return InfoHeader{}, fmt.Errorf("%w: \"t\"", ErrMissingField)
	}
	tStr, ok := tVal.(string)
	if !ok || (tStr != string(KindAudio) && tStr != string(KindVideo)) {
		return InfoHeader{}, fmt.Errorf("%w: \"t\" must be \"a\" or \"v\"", ErrMissingField)
	}

	cVal, ok := raw["c"]
	if !ok {
		return InfoHeader{}, fmt.Errorf("%w: \"c\"", ErrMissingField)
	}
	cStr, ok := cVal.(string)
	if !ok {
		return InfoHeader{}, fmt.Errorf("%w: \"c\" must be a string", ErrMissingField)
	}
	canonical, ok := MatchCodec(cStr)
	if !ok {
		return InfoHeader{}, fmt.Errorf("%w: %q", ErrUnsupportedCodec, cStr)
	}

	h := InfoHeader{Type: Kind(tStr), Codec: canonical}
	if sVal, ok := raw["s"]; ok {
		if f, ok := sVal.(float64); ok {
			h.Created = int64(f)
		}
	}
	if uVal, ok := raw["u"]; ok {
		if f, ok := uVal.(float64); ok {
			h.FirstWrite = int64(f)
		}
	}
	return h, nil
}

func (h InfoHeader) marshal() ([]byte, error) {
	return json.Marshal(h)
}
