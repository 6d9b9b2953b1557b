// Package codec serializes E2SM-NTN indication and control records. Two
// formats share one contract: a compact unaligned PER encoding for the
// E2 interface and a JSON encoding for debugging and interop.
package codec

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

// Format is the one-byte wire format identifier carried in the envelope.
type Format uint8

const (
	FormatPER  Format = 0x01
	FormatJSON Format = 0x02
)

func (format Format) String() string {
	switch format {
	case FormatPER:
		return "per"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("Format(0x%02x)", uint8(format))
	}
}

// ParseFormat accepts "per" or "json" in any case.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "per":
		return FormatPER, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, errors.Errorf("unknown wire format %q", value)
	}
}

// Codec encodes and decodes E2SM-NTN messages in one wire format. Codec
// instances are safe for concurrent use; each keeps its own statistics.
type Codec interface {
	Format() Format
	Encode(message model.Message) ([]byte, error)
	Decode(data []byte) (model.Message, error)
	Stats() Stats
	ResetStats()
}

// New returns the codec for format.
func New(format Format) (Codec, error) {
	switch format {
	case FormatPER:
		return NewPERCodec(), nil
	case FormatJSON:
		return NewJSONCodec(), nil
	default:
		return nil, errors.Errorf("no codec for %s", format)
	}
}

func encodingError(err error) error {
	var walkError *fieldError
	if errors.As(err, &walkError) {
		return &model.EncodingError{Field: walkError.path, Reason: walkError.reason}
	}
	return &model.EncodingError{Field: "message", Reason: err.Error()}
}

func decodingError(err error) error {
	var walkError *fieldError
	if errors.As(err, &walkError) {
		return &model.DecodingError{Field: walkError.path, Reason: walkError.reason, Cause: walkError.cause}
	}
	return &model.DecodingError{Field: "message", Reason: "malformed", Cause: err}
}
