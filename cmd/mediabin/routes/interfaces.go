package routes

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/lgulliver/mediabin/internal/blob"
	"github.com/lgulliver/mediabin/internal/library"
	"github.com/lgulliver/mediabin/internal/pool"
	"github.com/lgulliver/mediabin/internal/storage"
	"github.com/lgulliver/mediabin/pkg/types"
)

// LibraryService defines the contract for the media library
type LibraryService interface {
	Ingest(ctx context.Context, path string, req library.IngestRequest, progress blob.ProgressSink) (*types.MediaFile, error)
	Get(ctx context.Context, id uuid.UUID) (*types.MediaFile, error)
	List(ctx context.Context, filter *types.MediaFileFilter) ([]*types.MediaFile, int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Info(ctx context.Context, file *types.MediaFile) (*blob.Info, error)
	Open(ctx context.Context, file *types.MediaFile, offset, length int64) (*blob.Stream, error)
}

// Spooler stages incoming uploads on local disk
type Spooler interface {
	Spool(ctx context.Context, name string, content io.Reader) (*storage.SpooledFile, error)
	Remove(f *storage.SpooledFile) error
}

// LoginService issues operator tokens
type LoginService interface {
	Login(ctx context.Context, req *types.LoginRequest) (*types.AuthToken, error)
}

// StatusReporter reports session pool health
type StatusReporter interface {
	Status() pool.Status
}
