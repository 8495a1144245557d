package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lgulliver/mediabin/internal/blob"
	"github.com/lgulliver/mediabin/internal/common"
	"github.com/lgulliver/mediabin/internal/storage"
	"github.com/lgulliver/mediabin/pkg/types"
	"github.com/lgulliver/mediabin/pkg/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ErrFileNotFound is returned when no media file record exists
var ErrFileNotFound = errors.New("media file not found")

// Uploader stores local files as blobs
type Uploader interface {
	Upload(ctx context.Context, d blob.Descriptor) (*blob.Handle, error)
}

// Reader looks blobs up and streams them
type Reader interface {
	Info(ctx context.Context, h blob.Handle) (*blob.Info, error)
	Open(ctx context.Context, h blob.Handle, offset, length int64) (*blob.Stream, error)
}

// InfoCache caches blob metadata; common.Cache implements it
type InfoCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IngestRequest carries the metadata recorded with an upload
type IngestRequest struct {
	Title      string
	Artist     string
	Duration   int // seconds
	Thumbnail  string
	UploadedBy string
}

// Service maps media file records to blobs in the bin channel
type Service struct {
	DB       *common.Database
	uploader Uploader
	reader   Reader
	cache    InfoCache
	infoTTL  time.Duration
}

// NewService creates a new library service. cache may be nil.
func NewService(db *common.Database, uploader Uploader, reader Reader, cache InfoCache, infoTTL time.Duration) *Service {
	return &Service{
		DB:       db,
		uploader: uploader,
		reader:   reader,
		cache:    cache,
		infoTTL:  infoTTL,
	}
}

// HandleOf returns the blob handle of a media file
func HandleOf(file *types.MediaFile) blob.Handle {
	return blob.Handle{Destination: file.Destination, MessageID: file.MessageID}
}

// Ingest uploads the file at path and records it. Nothing is recorded when
// the upload fails.
func (s *Service) Ingest(ctx context.Context, path string, req IngestRequest, progress blob.ProgressSink) (*types.MediaFile, error) {
	checksum, size, err := storage.Checksum(path)
	if err != nil {
		return nil, err
	}

	fileName := utils.SanitizeFilename(filepath.Base(path))
	mimeType := blob.DetectMIMEType(path)
	title := req.Title
	if title == "" {
		title = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}

	log.Info().
		Str("file", fileName).
		Str("title", title).
		Str("artist", req.Artist).
		Str("size", utils.FormatBytes(size)).
		Msg("Starting media ingest")

	handle, err := s.uploader.Upload(ctx, blob.Descriptor{
		Path:      path,
		Title:     title,
		Performer: req.Artist,
		Duration:  time.Duration(req.Duration) * time.Second,
		Thumbnail: req.Thumbnail,
		Progress:  progress,
	})
	if err != nil {
		return nil, err
	}

	file := &types.MediaFile{
		Title:       title,
		Artist:      req.Artist,
		Duration:    req.Duration,
		FileName:    fileName,
		MIMEType:    mimeType,
		Size:        size,
		SHA256:      checksum,
		Kind:        blob.MediaKind(mimeType),
		Destination: handle.Destination,
		MessageID:   handle.MessageID,
		UploadedBy:  req.UploadedBy,
	}

	if err := s.DB.WithContext(ctx).Create(file).Error; err != nil {
		log.Error().Err(err).Str("handle", handle.String()).Msg("Failed to record uploaded blob")
		return nil, fmt.Errorf("failed to save media file: %w", err)
	}

	log.Info().Str("id", file.ID.String()).Str("handle", handle.String()).Msg("Media file ingested")
	return file, nil
}

// Get returns a media file record
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*types.MediaFile, error) {
	var file types.MediaFile
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get media file: %w", err)
	}
	return &file, nil
}

// List returns media files matching the filter, newest first, and the total
// number of matches
func (s *Service) List(ctx context.Context, filter *types.MediaFileFilter) ([]*types.MediaFile, int64, error) {
	query := s.DB.WithContext(ctx).Model(&types.MediaFile{})

	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Query != "" {
		pattern := "%" + strings.ToLower(filter.Query) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(artist) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count media files: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var files []*types.MediaFile
	if err := query.Order("created_at DESC").Limit(limit).Offset(max(filter.Offset, 0)).Find(&files).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list media files: %w", err)
	}

	return files, total, nil
}

// Delete removes a media file record. The message stays in the bin channel.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	file, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.DB.WithContext(ctx).Delete(&types.MediaFile{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete media file: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, infoKey(HandleOf(file))); err != nil {
			log.Warn().Err(err).Str("id", id.String()).Msg("Failed to evict cached blob info")
		}
	}

	log.Info().Str("id", id.String()).Str("handle", HandleOf(file).String()).Msg("Media file deleted")
	return nil
}

// Info returns live blob metadata for a media file, through the cache when
// one is configured. Cache failures are logged and ignored.
func (s *Service) Info(ctx context.Context, file *types.MediaFile) (*blob.Info, error) {
	handle := HandleOf(file)
	key := infoKey(handle)

	if s.cache != nil {
		var cached blob.Info
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, common.ErrCacheMiss) {
			log.Warn().Err(err).Str("key", key).Msg("Blob info cache read failed")
		}
	}

	info, err := s.reader.Info(ctx, handle)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, info, s.infoTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Blob info cache write failed")
		}
	}

	return info, nil
}

// Open streams a window of a media file's blob
func (s *Service) Open(ctx context.Context, file *types.MediaFile, offset, length int64) (*blob.Stream, error) {
	return s.reader.Open(ctx, HandleOf(file), offset, length)
}

func infoKey(h blob.Handle) string {
	return "blobinfo:" + h.String()
}
