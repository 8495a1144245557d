package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/lgulliver/mediabin/internal/auth"
	"github.com/lgulliver/mediabin/internal/blob"
	"github.com/lgulliver/mediabin/internal/common"
	"github.com/lgulliver/mediabin/internal/library"
	"github.com/lgulliver/mediabin/internal/pool"
	"github.com/lgulliver/mediabin/internal/storage"
	"github.com/lgulliver/mediabin/internal/transport/clients"
	"github.com/lgulliver/mediabin/internal/transport/memory"
	"github.com/lgulliver/mediabin/pkg/config"
)

const testChannel = int64(-1007778889990)

func setupTestPool(t *testing.T) (*pool.Pool, *memory.Server) {
	t.Helper()

	factory := clients.NewFactory(&config.TransportConfig{Type: "memory", Channel: testChannel})
	p, err := pool.New(testChannel, pool.Options{Size: 2}, factory.CreateClient)
	require.NoError(t, err)
	require.NoError(t, p.StartAll(context.Background()))
	t.Cleanup(func() { _ = p.StopAll(context.Background()) })

	return p, factory.MemoryServer()
}

func setupTestRouter(t *testing.T) http.Handler {
	t.Helper()

	p, _ := setupTestPool(t)
	db, err := common.OpenDatabase(sqlite.Open(":memory:"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	staging, err := storage.NewStaging(t.TempDir())
	require.NoError(t, err)

	lib := library.NewService(db, blob.NewUploader(p, 0), blob.NewStreamer(p, 0, 0), nil, time.Minute)
	authService := auth.NewService(&config.AuthConfig{JWTSecret: "test-secret", AdminUsername: "admin"})

	return setupRouter(p, lib, staging, authService)
}

func TestSetupRouter_Endpoints(t *testing.T) {
	router := setupTestRouter(t)

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{name: "health", method: http.MethodGet, target: "/health", status: http.StatusOK},
		{name: "metrics", method: http.MethodGet, target: "/metrics", status: http.StatusOK},
		{name: "files need auth", method: http.MethodGet, target: "/api/v1/files", status: http.StatusUnauthorized},
		{name: "cors preflight", method: http.MethodOptions, target: "/api/v1/files", status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.target, nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSetupRouter_LoginRequiresBody(t *testing.T) {
	router := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunDownload(t *testing.T) {
	p, server := setupTestPool(t)
	streamer := blob.NewStreamer(p, 0, 0)
	id := server.Put(testChannel, memory.Message{FileName: "take.wav", MIMEType: "audio/wav", Data: []byte("RIFF....WAVE")})
	handle := blob.Handle{Destination: testChannel, MessageID: id}.String()

	out := filepath.Join(t.TempDir(), "copy.wav")
	require.NoError(t, runDownload(context.Background(), streamer, handle, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "RIFF....WAVE", string(data))

	assert.Error(t, runDownload(context.Background(), streamer, "not-a-handle", out))
	assert.ErrorIs(t, runDownload(context.Background(), streamer, blob.Handle{Destination: testChannel, MessageID: 999}.String(), out), blob.ErrNotFound)
}
