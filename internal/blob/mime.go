package blob

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultMIMEType = "application/octet-stream"

// Content kinds.
const (
	KindAudio    = "audio"
	KindVideo    = "video"
	KindDocument = "document"
)

// mediaTypes covers the formats the bin is mostly used for, independent of
// the host's mime tables.
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
}

// mimeTypeByName guesses a MIME type from a file extension.
func mimeTypeByName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	return baseMIMEType(mime.TypeByExtension(ext))
}

// DetectMIMEType guesses the MIME type of a local file by extension, then
// by content, falling back to application/octet-stream.
func DetectMIMEType(path string) string {
	if t := mimeTypeByName(path); t != "" {
		return t
	}
	if m, err := mimetype.DetectFile(path); err == nil {
		if t := baseMIMEType(m.String()); t != "" {
			return t
		}
	}
	return defaultMIMEType
}

// mediaExtensions maps mediaTypes back to one extension per type.
var mediaExtensions = map[string]string{
	"audio/mpeg":       ".mp3",
	"audio/mp4":        ".m4a",
	"audio/aac":        ".aac",
	"audio/flac":       ".flac",
	"audio/ogg":        ".ogg",
	"audio/opus":       ".opus",
	"audio/wav":        ".wav",
	"video/mp4":        ".mp4",
	"video/x-matroska": ".mkv",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-msvideo":  ".avi",
}

// extensionFor returns the usual extension for a MIME type, or "".
func extensionFor(mimeType string) string {
	if ext, ok := mediaExtensions[mimeType]; ok {
		return ext
	}
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return ""
}

// MediaKind classifies a MIME type.
func MediaKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindDocument
	}
}

func baseMIMEType(t string) string {
	if t == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return base
}
