package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// GeometryError reports degenerate or out-of-range geometric inputs. When
// BelowMinimum is set the link is merely unusable for this cycle and the
// caller is expected to suppress reporting rather than fail.
type GeometryError struct {
	Reason       string
	ElevationDeg float64
	BelowMinimum bool
}

func (geometryError *GeometryError) Error() string {
	if geometryError.BelowMinimum {
		return fmt.Sprintf("geometry: elevation %.2f deg below minimum: %s",
			geometryError.ElevationDeg, geometryError.Reason)
	}
	return "geometry: " + geometryError.Reason
}

// EncodingError reports a value that violates a wire-format constraint.
type EncodingError struct {
	Field  string
	Reason string
}

func (encodingError *EncodingError) Error() string {
	return fmt.Sprintf("encoding %s: %s", encodingError.Field, encodingError.Reason)
}

// DecodingError reports malformed or out-of-constraint input. Field names
// the first field that could not be parsed.
type DecodingError struct {
	Field  string
	Reason string
	Cause  error
}

func (decodingError *DecodingError) Error() string {
	if decodingError.Cause != nil {
		return fmt.Sprintf("decoding %s: %s: %v", decodingError.Field, decodingError.Reason, decodingError.Cause)
	}
	return fmt.Sprintf("decoding %s: %s", decodingError.Field, decodingError.Reason)
}

// Unwrap exposes the underlying reader error, if any.
func (decodingError *DecodingError) Unwrap() error { return decodingError.Cause }

// ValidationError reports a control payload whose shape or values do not
// match what its action type expects.
type ValidationError struct {
	Field  string
	Reason string
}

func (validationError *ValidationError) Error() string {
	return fmt.Sprintf("validation %s: %s", validationError.Field, validationError.Reason)
}

// SessionError reports an operation on an unknown or deregistered UE.
type SessionError struct {
	UEID   string
	Reason string
}

func (sessionError *SessionError) Error() string {
	return fmt.Sprintf("session ueId=%s: %s", sessionError.UEID, sessionError.Reason)
}

// IsBelowMinimumElevation reports whether err (or anything it wraps) is the
// recoverable below-minimum-elevation geometry error.
func IsBelowMinimumElevation(err error) bool {
	var geometryError *GeometryError
	return errors.As(err, &geometryError) && geometryError.BelowMinimum
}

// AsDecodingError extracts a DecodingError from err.
func AsDecodingError(err error) (*DecodingError, bool) {
	var decodingError *DecodingError
	ok := errors.As(err, &decodingError)
	return decodingError, ok
}

// AsValidationError extracts a ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var validationError *ValidationError
	ok := errors.As(err, &validationError)
	return validationError, ok
}

// AsSessionError extracts a SessionError from err.
func AsSessionError(err error) (*SessionError, bool) {
	var sessionError *SessionError
	ok := errors.As(err, &sessionError)
	return sessionError, ok
}

// AsGeometryError extracts a GeometryError from err.
func AsGeometryError(err error) (*GeometryError, bool) {
	var geometryError *GeometryError
	ok := errors.As(err, &geometryError)
	return geometryError, ok
}
