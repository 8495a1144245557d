package blob

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no online session can see the blob after
	// each one refreshed its destination cache once.
	ErrNotFound = errors.New("blob not found")

	// ErrUploadFailed wraps every upload failure. A failed upload never
	// yields a handle.
	ErrUploadFailed = errors.New("upload failed")

	// ErrStream is wrapped by StreamError.
	ErrStream = errors.New("stream failed")

	// ErrInvalidRange is returned for a negative offset.
	ErrInvalidRange = errors.New("invalid range")

	// ErrStreamClosed is returned when reading a stream after Close.
	ErrStreamClosed = errors.New("stream closed")
)

// StreamError reports a transport failure after streaming began. Bytes
// already returned by the stream remain valid.
type StreamError struct {
	Handle Handle
	Offset int64
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s failed at offset %d: %v", e.Handle, e.Offset, e.Err)
}

func (e *StreamError) Unwrap() []error {
	return []error{ErrStream, e.Err}
}
