package blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_StringAndParse(t *testing.T) {
	h := Handle{Destination: -1001234567890, MessageID: 42}
	assert.Equal(t, "-1001234567890:42", h.String())

	parsed, err := ParseHandle(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseHandle_Invalid(t *testing.T) {
	for _, s := range []string{"", "42", "abc:1", "-100:", "-100:x", "-100:0", "-100:-3"} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseHandle(s)
			assert.Error(t, err)
		})
	}
}

func TestStreamError_Unwrap(t *testing.T) {
	cause := assert.AnError
	err := error(&StreamError{Handle: Handle{Destination: 1, MessageID: 2}, Offset: 10, Err: cause})

	assert.ErrorIs(t, err, ErrStream)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "1:2")
	assert.Contains(t, err.Error(), "offset 10")
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	ch := make(chan ProgressEvent, 1)
	sink := ChannelSink(ch)

	sink.Progress(ProgressEvent{Sent: 1})
	sink.Progress(ProgressEvent{Sent: 2})

	assert.Equal(t, int64(1), (<-ch).Sent)
	assert.Empty(t, ch)
}

func TestProgressReporter_Speed(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	var got []ProgressEvent
	r := newProgressReporter(ProgressFunc(func(e ProgressEvent) { got = append(got, e) }), 0, clock)

	now = now.Add(2 * time.Second)
	r.update(1000, 4000)
	now = now.Add(2 * time.Second)
	r.finish(4000)

	require.Len(t, got, 2)
	assert.InDelta(t, 500.0, got[0].Speed, 0.001)
	assert.InDelta(t, 1000.0, got[1].Speed, 0.001)
	assert.True(t, got[1].Done)
}

func TestProgressReporter_NilSink(t *testing.T) {
	r := newProgressReporter(nil, 0, time.Now)
	r.update(1, 2)
	r.finish(2)
}

func TestDetectMIMEType(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{name: "song.MP3", data: []byte{0}, expected: "audio/mpeg"},
		{name: "film.mkv", data: []byte{0}, expected: "video/x-matroska"},
		{name: "voice.opus", data: []byte{0}, expected: "audio/opus"},
		{name: "noext", data: []byte("%PDF-1.4\n"), expected: "application/pdf"},
		{name: "readme", data: []byte("hello there\n"), expected: "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, dir, tt.name, tt.data)
			assert.Equal(t, tt.expected, DetectMIMEType(path))
		})
	}
}

func TestMediaKind(t *testing.T) {
	assert.Equal(t, KindAudio, MediaKind("audio/mpeg"))
	assert.Equal(t, KindVideo, MediaKind("video/mp4"))
	assert.Equal(t, KindDocument, MediaKind("application/pdf"))
	assert.Equal(t, KindDocument, MediaKind(""))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".mp3", extensionFor("audio/mpeg"))
	assert.Equal(t, ".mp4", extensionFor("video/mp4"))
	assert.Equal(t, ".pdf", extensionFor("application/pdf"))
	assert.Equal(t, "", extensionFor("application/x-unknown-thing"))
}
