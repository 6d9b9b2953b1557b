package codec

import (
	"bytes"
	"fmt"
	"math/bits"
	"time"

	"github.com/icza/bitio"
	"github.com/pkg/errors"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

// Top-level CHOICE alternatives.
const (
	choiceIndication = 0
	choiceControl    = 1
)

// perCodec implements unaligned PER over the E2SM-NTN schema:
//   - constrained INTEGERs are written as value-lb in the minimum number of
//     bits that holds ub-lb
//   - OPTIONAL components are announced by a leading presence bitmap
//   - ENUMERATED types are extensible: one extension bit then the root index
//   - identifiers are size-constrained PrintableStrings: length-lb, then
//     seven bits per character
//   - every SEQUENCE carries a leading extension bit, always zero here
//   - the message is zero padded to a whole octet.
type perCodec struct {
	metrics CodecMetrics
}

// NewPERCodec returns the unaligned PER codec.
func NewPERCodec() Codec {
	return &perCodec{}
}

func (codecInstance *perCodec) Format() Format { return FormatPER }

func (codecInstance *perCodec) Stats() Stats { return codecInstance.metrics.Snapshot() }

func (codecInstance *perCodec) ResetStats() { codecInstance.metrics.Reset() }

func (codecInstance *perCodec) Encode(message model.Message) ([]byte, error) {
	start := time.Now()
	data, err := encodePER(message)
	codecInstance.metrics.observeEncode(time.Since(start), len(data), err)
	return data, err
}

func (codecInstance *perCodec) Decode(data []byte) (model.Message, error) {
	start := time.Now()
	message, err := decodePER(data)
	codecInstance.metrics.observeDecode(time.Since(start), len(data), err)
	return message, err
}

func encodePER(message model.Message) ([]byte, error) {
	buffer := &bytes.Buffer{}
	writer := &perWriter{writer: bitio.NewWriter(buffer)}

	var walkErr error
	switch record := message.(type) {
	case *model.NTNIndicationRecord:
		if record == nil {
			return nil, &model.EncodingError{Field: "indication", Reason: "nil record"}
		}
		walkErr = writer.choice(choiceIndication)
		if walkErr == nil {
			walkErr = walkIndication(writer, record.Clone())
		}
	case *model.NTNControlRecord:
		if record == nil {
			return nil, &model.EncodingError{Field: "control", Reason: "nil record"}
		}
		walkErr = writer.choice(choiceControl)
		if walkErr == nil {
			copyRecord := *record
			walkErr = walkControl(writer, &copyRecord)
		}
	default:
		return nil, &model.EncodingError{Field: "message", Reason: fmt.Sprintf("unsupported message %T", message)}
	}
	if walkErr != nil {
		return nil, encodingError(walkErr)
	}

	if err := writer.writer.Close(); err != nil {
		return nil, &model.EncodingError{Field: "message", Reason: errors.Wrap(err, "flush").Error()}
	}
	return buffer.Bytes(), nil
}

func decodePER(data []byte) (model.Message, error) {
	reader := &perReader{reader: bitio.NewReader(bytes.NewReader(data))}

	alternative, err := reader.choice()
	if err != nil {
		return nil, decodingError(err)
	}

	var message model.Message
	switch alternative {
	case choiceIndication:
		record := &model.NTNIndicationRecord{}
		err = walkIndication(reader, record)
		message = record
	default:
		record := &model.NTNControlRecord{}
		err = walkControl(reader, record)
		message = record
	}
	if err != nil {
		return nil, decodingError(err)
	}

	if err := reader.finish(len(data)); err != nil {
		return nil, decodingError(err)
	}
	return message, nil
}

// widthFor returns the number of bits needed for a constrained range.
func widthFor(lower, upper int64) uint8 {
	return uint8(bits.Len64(uint64(upper - lower)))
}

// perWriter is the encoding fieldVisitor.
type perWriter struct {
	writer *bitio.Writer
}

func (writer *perWriter) bits(path string, value uint64, width uint8) error {
	if width == 0 {
		return nil
	}
	if err := writer.writer.WriteBits(value, width); err != nil {
		return newFieldError(path, "write failed", err)
	}
	return nil
}

func (writer *perWriter) choice(alternative uint64) error {
	// extension bit, then one bit for two root alternatives
	return writer.bits("message", alternative, 2)
}

func (writer *perWriter) Presence(path string, present []bool) error {
	var bitmap uint64
	for _, isPresent := range present {
		bitmap <<= 1
		if isPresent {
			bitmap |= 1
		}
	}
	// sequence extension bit first
	if err := writer.bits(path, 0, 1); err != nil {
		return err
	}
	return writer.bits(path, bitmap, uint8(len(present)))
}

func (writer *perWriter) Enumerated(path string, count uint8, value *uint8) error {
	if *value >= count {
		return newFieldError(path, fmt.Sprintf("enumerated value %d outside root of %d", *value, count), nil)
	}
	if err := writer.bits(path, 0, 1); err != nil {
		return err
	}
	return writer.bits(path, uint64(*value), widthFor(0, int64(count)-1))
}

func (writer *perWriter) Integer(path string, constraint model.IntConstraint, value *int64) error {
	if err := constraint.Check(*value); err != nil {
		return newFieldError(path, err.Error(), nil)
	}
	return writer.bits(path, uint64(*value-constraint.Min), widthFor(constraint.Min, constraint.Max))
}

func (writer *perWriter) Real(path string, constraint model.FieldConstraint, value *float64) error {
	wire, err := constraint.ToWire(*value)
	if err != nil {
		return newFieldError(path, err.Error(), nil)
	}
	lower, upper := constraint.Bounds()
	return writer.bits(path, uint64(wire-lower), widthFor(lower, upper))
}

func (writer *perWriter) Text(path string, constraint model.StringConstraint, value *string) error {
	if err := constraint.Check(*value); err != nil {
		return newFieldError(path, err.Error(), nil)
	}
	lengthWidth := widthFor(int64(constraint.MinLen), int64(constraint.MaxLen))
	if err := writer.bits(path, uint64(len(*value)-constraint.MinLen), lengthWidth); err != nil {
		return err
	}
	for index := 0; index < len(*value); index++ {
		if err := writer.bits(path, uint64((*value)[index]-0x20), 7); err != nil {
			return err
		}
	}
	return nil
}

// perReader is the decoding fieldVisitor. It counts consumed bits so that
// padding and trailing bytes can be verified.
type perReader struct {
	reader   *bitio.Reader
	consumed uint64
}

func (reader *perReader) bits(path string, width uint8) (uint64, error) {
	if width == 0 {
		return 0, nil
	}
	value, err := reader.reader.ReadBits(width)
	if err != nil {
		return 0, newFieldError(path, "truncated", err)
	}
	reader.consumed += uint64(width)
	return value, nil
}

func (reader *perReader) extension(path string) error {
	extended, err := reader.bits(path, 1)
	if err != nil {
		return err
	}
	if extended != 0 {
		return newFieldError(path, "extension additions not supported", nil)
	}
	return nil
}

func (reader *perReader) choice() (uint64, error) {
	if err := reader.extension("message"); err != nil {
		return 0, err
	}
	return reader.bits("message", 1)
}

func (reader *perReader) Presence(path string, present []bool) error {
	if err := reader.extension(path); err != nil {
		return err
	}
	bitmap, err := reader.bits(path, uint8(len(present)))
	if err != nil {
		return err
	}
	for index := range present {
		present[index] = bitmap&(1<<uint(len(present)-1-index)) != 0
	}
	return nil
}

func (reader *perReader) Enumerated(path string, count uint8, value *uint8) error {
	if err := reader.extension(path); err != nil {
		return err
	}
	index, err := reader.bits(path, widthFor(0, int64(count)-1))
	if err != nil {
		return err
	}
	if index >= uint64(count) {
		return newFieldError(path, fmt.Sprintf("enumerated value %d outside root of %d", index, count), nil)
	}
	*value = uint8(index)
	return nil
}

func (reader *perReader) Integer(path string, constraint model.IntConstraint, value *int64) error {
	raw, err := reader.bits(path, widthFor(constraint.Min, constraint.Max))
	if err != nil {
		return err
	}
	if raw > uint64(constraint.Max-constraint.Min) {
		return newFieldError(path, fmt.Sprintf("%s outside [%d, %d]", constraint.Name, constraint.Min, constraint.Max), nil)
	}
	*value = constraint.Min + int64(raw)
	return nil
}

func (reader *perReader) Real(path string, constraint model.FieldConstraint, value *float64) error {
	lower, upper := constraint.Bounds()
	raw, err := reader.bits(path, widthFor(lower, upper))
	if err != nil {
		return err
	}
	if raw > uint64(upper-lower) {
		return newFieldError(path, fmt.Sprintf("%s outside [%v, %v]", constraint.Name, constraint.Min, constraint.Max), nil)
	}
	*value = constraint.FromWire(lower + int64(raw))
	return nil
}

func (reader *perReader) Text(path string, constraint model.StringConstraint, value *string) error {
	lengthWidth := widthFor(int64(constraint.MinLen), int64(constraint.MaxLen))
	rawLength, err := reader.bits(path, lengthWidth)
	if err != nil {
		return err
	}
	length := constraint.MinLen + int(rawLength)
	if length > constraint.MaxLen {
		return newFieldError(path, fmt.Sprintf("length %d above %d", length, constraint.MaxLen), nil)
	}
	text := make([]byte, length)
	for index := range text {
		raw, err := reader.bits(path, 7)
		if err != nil {
			return err
		}
		if raw > 0x7e-0x20 {
			return newFieldError(path, fmt.Sprintf("non-printable character at %d", index), nil)
		}
		text[index] = byte(raw) + 0x20
	}
	*value = string(text)
	return nil
}

// finish checks that the padding is zero and that no bytes follow it.
func (reader *perReader) finish(size int) error {
	if padding := uint8((8 - reader.consumed%8) % 8); padding > 0 {
		value, err := reader.bits("padding", padding)
		if err != nil {
			return err
		}
		if value != 0 {
			return newFieldError("padding", "non-zero padding bits", nil)
		}
	}
	if used := int(reader.consumed / 8); used != size {
		return newFieldError("message", fmt.Sprintf("%d trailing bytes", size-used), nil)
	}
	return nil
}
