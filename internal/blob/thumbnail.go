package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// thumbnail is the cover attached to an upload. Temp thumbnails were fetched
// by the pipeline and are removed when the upload ends.
type thumbnail struct {
	path string
	temp bool
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// prepareThumbnail resolves a thumbnail reference. A URL is fetched next to
// the source file; an existing local path is used as is. Any failure means
// no thumbnail.
func (u *Uploader) prepareThumbnail(ctx context.Context, ref, sourcePath string) thumbnail {
	switch {
	case ref == "":
		return thumbnail{}
	case isRemote(ref):
		path := filepath.Join(filepath.Dir(sourcePath), fmt.Sprintf("thumb_%s.jpg", uuid.New().String()))
		if err := u.fetchThumbnail(ctx, ref, path); err != nil {
			log.Warn().Err(err).Str("url", ref).Msg("Failed to download thumbnail, uploading without one")
			_ = os.Remove(path)
			return thumbnail{}
		}
		return thumbnail{path: path, temp: true}
	default:
		if info, err := os.Stat(ref); err == nil && !info.IsDir() {
			return thumbnail{path: ref}
		}
		log.Warn().Str("path", ref).Msg("Thumbnail not found, uploading without one")
		return thumbnail{}
	}
}

func (u *Uploader) fetchThumbnail(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build thumbnail request: %w", err)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("thumbnail server returned %d", resp.StatusCode)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	return f.Close()
}

func (t thumbnail) cleanup() {
	if !t.temp {
		return
	}
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", t.path).Msg("Failed to remove temporary thumbnail")
	}
}
