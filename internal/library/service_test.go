package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/lgulliver/mediabin/internal/blob"
	"github.com/lgulliver/mediabin/internal/common"
	"github.com/lgulliver/mediabin/internal/pool"
	"github.com/lgulliver/mediabin/internal/transport"
	"github.com/lgulliver/mediabin/internal/transport/memory"
	"github.com/lgulliver/mediabin/pkg/types"
)

const testDestination = int64(-1001112223334)

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	failGet error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet != nil {
		return c.failGet
	}
	data, ok := c.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrCacheMiss, key)
	}
	return json.Unmarshal(data, dest)
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func setupTestService(t *testing.T, cache InfoCache) (*Service, []*memory.Client) {
	t.Helper()

	db, err := common.OpenDatabase(sqlite.Open(":memory:"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	server := memory.NewServer()
	server.CreateChannel(testDestination)

	clients := make([]*memory.Client, 2)
	p, err := pool.New(testDestination, pool.Options{Size: 2}, func(id int) (transport.Client, error) {
		clients[id] = server.NewClient(fmt.Sprintf("worker_%d", id))
		return clients[id], nil
	})
	require.NoError(t, err)
	require.NoError(t, p.StartAll(context.Background()))
	t.Cleanup(func() { _ = p.StopAll(context.Background()) })

	svc := NewService(db, blob.NewUploader(p, 0), blob.NewStreamer(p, 0, 0), cache, time.Minute)
	return svc, clients
}

func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestIngest_RecordsUploadedBlob(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	data := []byte("ID3 pretend this is audio")
	path := writeTestFile(t, "Night Drive.mp3", data)

	file, err := svc.Ingest(context.Background(), path, IngestRequest{
		Artist:     "Synth Band",
		Duration:   215,
		UploadedBy: "admin",
	}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, file.ID)
	assert.Equal(t, "Night Drive", file.Title)
	assert.Equal(t, "Night Drive.mp3", file.FileName)
	assert.Equal(t, "audio/mpeg", file.MIMEType)
	assert.Equal(t, blob.KindAudio, file.Kind)
	assert.Equal(t, int64(len(data)), file.Size)
	assert.Len(t, file.SHA256, 64)
	assert.Equal(t, testDestination, file.Destination)
	assert.Positive(t, file.MessageID)

	loaded, err := svc.Get(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.MessageID, loaded.MessageID)
	assert.Equal(t, "admin", loaded.UploadedBy)

	st, err := svc.Open(context.Background(), loaded, 0, 0)
	require.NoError(t, err)
	defer st.Close()
	got, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestIngest_UploadFailureRecordsNothing(t *testing.T) {
	svc, clients := setupTestService(t, nil)
	clients[0].FailSend(errors.New("FILE_PARTS_INVALID"))
	path := writeTestFile(t, "clip.mp4", []byte("not really a video"))

	file, err := svc.Ingest(context.Background(), path, IngestRequest{Title: "Clip"}, nil)
	assert.ErrorIs(t, err, blob.ErrUploadFailed)
	assert.Nil(t, file)

	var count int64
	require.NoError(t, svc.DB.Model(&types.MediaFile{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngest_MissingFile(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	_, err := svc.Ingest(context.Background(), filepath.Join(t.TempDir(), "gone.mp3"), IngestRequest{}, nil)
	assert.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	_, err := svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []types.MediaFile{
		{Title: "Morning Song", Artist: "Alpha", Kind: blob.KindAudio, FileName: "a.mp3", MessageID: 1},
		{Title: "Evening Song", Artist: "Beta", Kind: blob.KindAudio, FileName: "b.mp3", MessageID: 2},
		{Title: "Holiday", Artist: "Alpha", Kind: blob.KindVideo, FileName: "c.mp4", MessageID: 3},
		{Title: "Manual", Artist: "", Kind: blob.KindDocument, FileName: "d.pdf", MessageID: 4},
	}
	for i := range seed {
		seed[i].Destination = testDestination
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, svc.DB.Create(&seed[i]).Error)
	}

	tests := []struct {
		name     string
		filter   types.MediaFileFilter
		expected []string
		total    int64
	}{
		{name: "all newest first", filter: types.MediaFileFilter{}, expected: []string{"Manual", "Holiday", "Evening Song", "Morning Song"}, total: 4},
		{name: "by kind", filter: types.MediaFileFilter{Kind: blob.KindAudio}, expected: []string{"Evening Song", "Morning Song"}, total: 2},
		{name: "query matches artist", filter: types.MediaFileFilter{Query: "alpha"}, expected: []string{"Holiday", "Morning Song"}, total: 2},
		{name: "query matches title", filter: types.MediaFileFilter{Query: "SONG"}, expected: []string{"Evening Song", "Morning Song"}, total: 2},
		{name: "page", filter: types.MediaFileFilter{Limit: 2, Offset: 1}, expected: []string{"Holiday", "Evening Song"}, total: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := tt.filter
			files, total, err := svc.List(context.Background(), &filter)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)

			titles := make([]string, len(files))
			for i, f := range files {
				titles[i] = f.Title
			}
			assert.Equal(t, tt.expected, titles)
		})
	}
}

func TestInfo_UsesCache(t *testing.T) {
	cache := newMapCache()
	svc, clients := setupTestService(t, cache)
	path := writeTestFile(t, "talk.ogg", []byte("OggS some voice data"))

	file, err := svc.Ingest(context.Background(), path, IngestRequest{}, nil)
	require.NoError(t, err)

	info, err := svc.Info(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "talk.ogg", info.FileName)
	assert.Equal(t, file.Size, info.Size)
	assert.True(t, cache.has(infoKey(HandleOf(file))))

	calls := clients[0].GetCalls() + clients[1].GetCalls()
	cached, err := svc.Info(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, info, cached)
	assert.Equal(t, calls, clients[0].GetCalls()+clients[1].GetCalls())
}

func TestInfo_CacheFailureFallsThrough(t *testing.T) {
	cache := newMapCache()
	cache.failGet = errors.New("connection refused")
	svc, _ := setupTestService(t, cache)
	path := writeTestFile(t, "notes.pdf", []byte("%PDF-1.4\n"))

	file, err := svc.Ingest(context.Background(), path, IngestRequest{}, nil)
	require.NoError(t, err)

	info, err := svc.Info(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "notes.pdf", info.FileName)
}

func TestInfo_LostBlob(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	file := &types.MediaFile{FileName: "lost.mp3", Kind: blob.KindAudio, Destination: testDestination, MessageID: 999}

	_, err := svc.Info(context.Background(), file)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDelete_RemovesRecordAndCache(t *testing.T) {
	cache := newMapCache()
	svc, _ := setupTestService(t, cache)
	path := writeTestFile(t, "song.flac", []byte("fLaC data"))

	file, err := svc.Ingest(context.Background(), path, IngestRequest{}, nil)
	require.NoError(t, err)
	_, err = svc.Info(context.Background(), file)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), file.ID))

	_, err = svc.Get(context.Background(), file.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.False(t, cache.has(infoKey(HandleOf(file))))

	assert.ErrorIs(t, svc.Delete(context.Background(), file.ID), ErrFileNotFound)
}
