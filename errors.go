package vmux

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorType is a status code reported by a media engine.
// The values mirror the AVERROR codes used by FFmpeg so that
// engines can pass codes through unchanged.
type ErrorType int

const (
	// ErrorAgain is returned when the encoder
	// has no packet ready yet but is not done.
	ErrorAgain ErrorType = -11
	// ErrorInvalidValue is returned
	// when the function call argument
	// is invalid.
	ErrorInvalidValue ErrorType = -22
	// ErrorNoMemory is returned when an
	// allocation fails.
	ErrorNoMemory ErrorType = -12
	// ErrorEndOfFile is returned when the
	// encoder has been fully drained.
	ErrorEndOfFile ErrorType = -541478725
	// ErrorIO is returned when an I/O
	// operation fails during muxing.
	ErrorIO ErrorType = -5
	// ErrorEncoder is returned when
	// encoding fails.
	ErrorEncoder ErrorType = -1094995529
)

func (e ErrorType) Error() string {
	switch e {
	case ErrorAgain:
		return "resource temporarily unavailable"
	case ErrorInvalidValue:
		return "invalid argument"
	case ErrorNoMemory:
		return "cannot allocate memory"
	case ErrorEndOfFile:
		return "end of file"
	case ErrorIO:
		return "i/o error"
	case ErrorEncoder:
		return "encoder not found"
	}
	return fmt.Sprintf("error code %d", int(e))
}

var (
	ErrOutOfMemory            = errors.New("out of memory")
	ErrUnknownFormat          = errors.New("unknown container format")
	ErrStreamAllocationFailed = errors.New("could not allocate stream")
	ErrEncoderOpenFailed      = errors.New("failed to open encoder")
	ErrParameterCopyFailed    = errors.New("could not copy stream parameters")
	ErrHeaderWriteFailed      = errors.New("could not write header")
	ErrWriteFailed            = errors.New("failed to write packet")
	ErrEncodingFailed         = errors.New("error encoding packet")
	ErrTrailerWriteFailed     = errors.New("failed to write trailer")

	ErrInvalidName     = errors.New("name contains a NUL character")
	ErrStreamIndex     = errors.New("stream index out of range")
	ErrClosed          = errors.New("muxer is closed")
	ErrBuilderConsumed = errors.New("muxer builder already opened")
)

// CodeError attaches an engine status code to one of the
// sentinel errors above. errors.Is(err, Kind) holds for it.
type CodeError struct {
	Kind error
	Code ErrorType
	Err  error
}

func (e *CodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (%d): %v", e.Kind, int(e.Code), e.Err)
	}
	return fmt.Sprintf("%v (%d)", e.Kind, int(e.Code))
}

func (e *CodeError) Unwrap() error { return e.Kind }

// Cause returns the engine error that produced the code.
func (e *CodeError) Cause() error { return e.Err }

// withCode wraps err under kind, extracting the engine code
// when err carries one.
func withCode(kind, err error) error {
	code := ErrorIO
	var et ErrorType
	if errors.As(err, &et) {
		code = et
	}
	return &CodeError{Kind: kind, Code: code, Err: err}
}

// CodeOf returns the engine status code carried by err, or 0.
func CodeOf(err error) ErrorType {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var et ErrorType
	if errors.As(err, &et) {
		return et
	}
	return 0
}
