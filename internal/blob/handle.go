// Package blob stores files as media messages in the bin channel and reads
// them back by byte range.
package blob

import (
	"fmt"
	"strconv"
	"strings"
)

// Handle addresses one stored blob. It is created once when an upload
// succeeds and never changes.
type Handle struct {
	Destination int64 `json:"destination"`
	MessageID   int   `json:"message_id"`
}

// String returns "<destination>:<message>".
func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.Destination, h.MessageID)
}

// ParseHandle parses the String form of a handle.
func ParseHandle(s string) (Handle, error) {
	dest, msg, ok := strings.Cut(s, ":")
	if !ok {
		return Handle{}, fmt.Errorf("invalid blob handle %q", s)
	}
	destination, err := strconv.ParseInt(dest, 10, 64)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid blob handle destination %q: %w", dest, err)
	}
	messageID, err := strconv.Atoi(msg)
	if err != nil || messageID <= 0 {
		return Handle{}, fmt.Errorf("invalid blob handle message id %q", msg)
	}
	return Handle{Destination: destination, MessageID: messageID}, nil
}

// Info describes a stored blob as currently seen by the transport.
type Info struct {
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"file_size"`
}
