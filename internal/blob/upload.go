package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/internal/metrics"
	"github.com/lgulliver/mediabin/internal/pool"
	"github.com/lgulliver/mediabin/internal/transport"
	"github.com/lgulliver/mediabin/pkg/utils"
)

const thumbnailTimeout = 10 * time.Second

// Descriptor describes a local file to upload. Title, Performer and Duration
// are attached to audio and video content.
type Descriptor struct {
	Path      string
	Title     string
	Performer string
	Duration  time.Duration

	// Thumbnail is an http(s) URL or a local path. Optional.
	Thumbnail string

	// Progress receives upload progress. Optional.
	Progress ProgressSink
}

// Uploader sends local files to the bin channel on the primary session.
type Uploader struct {
	pool             *pool.Pool
	progressInterval time.Duration
	httpClient       *http.Client
	now              func() time.Time
}

// NewUploader creates an uploader. progressInterval throttles progress
// events; zero reports every transport callback.
func NewUploader(p *pool.Pool, progressInterval time.Duration) *Uploader {
	return &Uploader{
		pool:             p,
		progressInterval: progressInterval,
		httpClient:       &http.Client{Timeout: thumbnailTimeout},
		now:              time.Now,
	}
}

// Upload stores the file at d.Path and returns its handle. Any failure is
// returned wrapped in ErrUploadFailed with a nil handle. The source file and
// a caller-provided thumbnail are never removed.
func (u *Uploader) Upload(ctx context.Context, d Descriptor) (*Handle, error) {
	info, err := os.Stat(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUploadFailed, d.Path)
	}

	name := utils.SanitizeFilename(filepath.Base(d.Path))
	if name == "" {
		name = "upload"
	}
	mimeType := DetectMIMEType(d.Path)
	kind := MediaKind(mimeType)

	thumb := u.prepareThumbnail(ctx, d.Thumbnail, d.Path)
	defer thumb.cleanup()

	req := &transport.SendRequest{
		Path:       d.Path,
		FileName:   name,
		MIMEType:   mimeType,
		Caption:    fmt.Sprintf("Uploaded via mediabin: %s", name),
		ThumbPath:  thumb.path,
		Attributes: attributesFor(kind, name, d),
	}

	start := u.now()
	reporter := newProgressReporter(d.Progress, u.progressInterval, u.now)
	req.Progress = reporter.update

	log.Info().Str("file", name).Str("mime_type", mimeType).Int64("size", info.Size()).Msg("Uploading file")

	messageID, err := u.send(ctx, req)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(metrics.ResultFailure, kind).Inc()
		log.Error().Err(err).Str("file", name).Msg("Upload failed")
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	reporter.finish(info.Size())
	metrics.UploadsTotal.WithLabelValues(metrics.ResultSuccess, kind).Inc()
	metrics.UploadedBytesTotal.Add(float64(info.Size()))
	metrics.UploadDuration.Observe(u.now().Sub(start).Seconds())

	handle := &Handle{Destination: u.pool.Destination(), MessageID: messageID}
	log.Info().Str("file", name).Int("message_id", messageID).Str("handle", handle.String()).Msg("Upload complete")
	return handle, nil
}

// send uploads on the upload session. A destination missing from the
// session cache is resolved once and the send retried.
func (u *Uploader) send(ctx context.Context, req *transport.SendRequest) (int, error) {
	release, err := u.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	session, err := u.pool.UploadSession()
	if err != nil {
		return 0, err
	}
	end := session.Begin()
	defer end()

	destination := u.pool.Destination()
	messageID, err := session.Client().SendMedia(ctx, destination, req)
	if !errors.Is(err, transport.ErrDestinationUnresolved) {
		return messageID, err
	}

	log.Warn().Int("session", session.ID).Msg("Destination not cached on upload session, resolving")
	if err := session.Refresh(ctx, destination); err != nil {
		return 0, fmt.Errorf("failed to resolve destination: %w", err)
	}
	return session.Client().SendMedia(ctx, destination, req)
}

func attributesFor(kind, name string, d Descriptor) []transport.Attribute {
	attrs := make([]transport.Attribute, 0, 2)
	switch kind {
	case KindVideo:
		attrs = append(attrs, transport.Attribute{
			Kind:              transport.AttributeVideo,
			Duration:          d.Duration,
			SupportsStreaming: true,
		})
	case KindAudio:
		attrs = append(attrs, transport.Attribute{
			Kind:      transport.AttributeAudio,
			Duration:  d.Duration,
			Title:     d.Title,
			Performer: d.Performer,
		})
	}
	return append(attrs, transport.Attribute{Kind: transport.AttributeFilename, FileName: name})
}
