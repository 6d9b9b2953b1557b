package codec

import (
	"encoding/binary"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

// DefaultRANFunctionID identifies E2SM-NTN in the RAN function catalog of
// this node when the configuration does not override it.
const DefaultRANFunctionID uint16 = 10

// EnvelopeHeaderSize is the size of [format:1][ranFunctionId:2].
const EnvelopeHeaderSize = 3

// Wrap prefixes payload with the format identifier and the big-endian RAN
// function ID.
func Wrap(format Format, ranFunctionID uint16, payload []byte) []byte {
	buffer := make([]byte, EnvelopeHeaderSize+len(payload))
	buffer[0] = byte(format)
	binary.BigEndian.PutUint16(buffer[1:3], ranFunctionID)
	copy(buffer[EnvelopeHeaderSize:], payload)
	return buffer
}

// Unwrap splits an enveloped buffer. The returned payload aliases data.
func Unwrap(data []byte) (Format, uint16, []byte, error) {
	if len(data) < EnvelopeHeaderSize {
		return 0, 0, nil, &model.DecodingError{Field: "envelope", Reason: "shorter than header"}
	}
	format := Format(data[0])
	if format != FormatPER && format != FormatJSON {
		return 0, 0, nil, &model.DecodingError{Field: "envelope.format", Reason: "unknown format " + format.String()}
	}
	return format, binary.BigEndian.Uint16(data[1:3]), data[EnvelopeHeaderSize:], nil
}
