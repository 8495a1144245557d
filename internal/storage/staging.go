package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/pkg/utils"
)

// SpooledFile is an upload written to the staging area.
type SpooledFile struct {
	Path   string
	Name   string
	Size   int64
	SHA256 string
}

// Staging is the local directory incoming uploads are written to before they
// are sent to the bin channel. Each spooled file gets its own directory so
// it keeps its original name.
type Staging struct {
	basePath string
}

// NewStaging creates the staging directory if needed.
func NewStaging(basePath string) (*Staging, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create staging directory")
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("staging area initialized")
	return &Staging{basePath: basePath}, nil
}

// Spool writes content atomically under name and hashes it on the way.
func (s *Staging) Spool(ctx context.Context, name string, content io.Reader) (*SpooledFile, error) {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	name = utils.SanitizeFilename(filepath.Base(name))
	if name == "" || name == "." {
		name = "upload"
	}

	dir := filepath.Join(s.basePath, uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("failed to create spool directory")
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	fullPath := filepath.Join(dir, name)

	tempFile, err := os.CreateTemp(dir, ".spool-*")
	if err != nil {
		os.RemoveAll(dir)
		log.Error().Err(err).Str("dir", dir).Msg("failed to create temporary file")
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	committed := false
	defer func() {
		tempFile.Close()
		if !committed {
			os.RemoveAll(dir)
		}
	}()

	hasher := sha256.New()
	multiWriter := io.MultiWriter(tempFile, hasher)

	bytesWritten, err := io.Copy(multiWriter, &contextReader{ctx: ctx, r: content})
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to write upload to staging")
		return nil, fmt.Errorf("failed to write content: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to sync temporary file")
		return nil, fmt.Errorf("failed to sync temporary file: %w", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("name", name).Str("temp_path", tempPath).Msg("failed to move temporary file to final location")
		return nil, fmt.Errorf("failed to move file to final location: %w", err)
	}
	committed = true

	checksum := hex.EncodeToString(hasher.Sum(nil))
	log.Info().
		Str("path", fullPath).
		Int64("bytes_written", bytesWritten).
		Str("checksum", checksum).
		Dur("duration", time.Since(startTime)).
		Msg("upload spooled")

	return &SpooledFile{Path: fullPath, Name: name, Size: bytesWritten, SHA256: checksum}, nil
}

// Remove deletes a spooled file and its directory. Removing twice is not an
// error.
func (s *Staging) Remove(f *SpooledFile) error {
	dir := filepath.Dir(f.Path)
	if !s.owns(dir) {
		return fmt.Errorf("refusing to remove %s outside the staging area", f.Path)
	}

	if err := os.RemoveAll(dir); err != nil {
		log.Error().Err(err).Str("path", f.Path).Msg("failed to remove spooled file")
		return fmt.Errorf("failed to remove spooled file: %w", err)
	}
	log.Debug().Str("path", f.Path).Msg("spooled file removed")
	return nil
}

// Sweep removes spool directories last modified before maxAge ago, left
// behind by uploads that never finished. It returns the number removed.
func (s *Staging) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to list staging area: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}

		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.basePath, entry.Name())); err != nil {
			log.Warn().Err(err).Str("dir", entry.Name()).Msg("failed to sweep staging directory")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("count", removed).Msg("stale staging directories removed")
	}
	return removed, nil
}

// Checksum hashes a local file.
func Checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("failed to get file info: %w", err)
	}

	sum, err := utils.ComputeSHA256FromReader(f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash file: %w", err)
	}
	return sum, info.Size(), nil
}

func (s *Staging) owns(dir string) bool {
	base, err := filepath.Abs(s.basePath)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !strings.Contains(rel, string(filepath.Separator))
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
