// Package transport defines the narrow view of the messaging service that the
// session pool is built on. Concrete clients live in subpackages; nothing
// outside them sees SDK types.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMessageNotFound is returned when the destination has no message with
	// the requested id, or the message carries no media.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDestinationUnresolved is returned when the client's local cache has
	// no entry for the destination yet.
	ErrDestinationUnresolved = errors.New("destination not resolved")

	// ErrNotConnected is returned for calls made before Connect succeeded.
	ErrNotConnected = errors.New("client not connected")
)

// Client is one authenticated connection to the messaging service. A Client
// must be safe for concurrent use: many logical requests share one
// connection.
type Client interface {
	// Connect opens the connection and authenticates it.
	Connect(ctx context.Context) error

	// Disconnect closes the connection.
	Disconnect(ctx context.Context) error

	// ResolveDestination refreshes the client's cached access data for the
	// destination. Safe to call repeatedly.
	ResolveDestination(ctx context.Context, destination int64) error

	// GetMedia fetches the media descriptor of a message.
	GetMedia(ctx context.Context, destination int64, messageID int) (*Media, error)

	// ReadAt reads up to limit bytes of media starting at offset. Results may
	// be shorter than limit; an empty result means the end of the data.
	ReadAt(ctx context.Context, media *Media, offset int64, limit int) ([]byte, error)

	// SendMedia uploads a local file as a new message and returns its id.
	SendMedia(ctx context.Context, destination int64, req *SendRequest) (int, error)
}

// Media is what the rest of the system knows about a stored message.
type Media struct {
	MessageID int
	FileName  string
	MIMEType  string
	Size      int64

	// Location is opaque client-specific addressing for ReadAt.
	Location any
}

// AttributeKind selects the content attribute attached to an upload.
type AttributeKind int

const (
	AttributeFilename AttributeKind = iota
	AttributeAudio
	AttributeVideo
)

func (k AttributeKind) String() string {
	switch k {
	case AttributeAudio:
		return "audio"
	case AttributeVideo:
		return "video"
	default:
		return "filename"
	}
}

// Attribute describes the content of an upload.
type Attribute struct {
	Kind              AttributeKind
	FileName          string
	Duration          time.Duration
	Title             string
	Performer         string
	SupportsStreaming bool
}

// SendRequest is a single media upload.
type SendRequest struct {
	Path       string
	FileName   string
	MIMEType   string
	Caption    string
	ThumbPath  string
	Attributes []Attribute

	// Progress, when set, is called with the bytes sent so far and the total.
	Progress func(sent, total int64)
}

// FloodWaitError reports a service-imposed cool-down.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// AsFloodWait reports whether err is a rate-limit cool-down and how long to
// wait before retrying.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}
