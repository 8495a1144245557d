package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgulliver/mediabin/internal/pool"
	"github.com/lgulliver/mediabin/internal/transport"
)

func TestStreamer_RoundTrip(t *testing.T) {
	env := newTestEnv(t, 3, pool.Options{}, nil)
	data := testPayload(3*1024*1024 + 17)
	path := writeTestFile(t, t.TempDir(), "song.mp3", data)

	handle, err := env.uploader.Upload(context.Background(), Descriptor{Path: path, Title: "Song", Performer: "Band"})
	require.NoError(t, err)
	require.NotNil(t, handle)

	info, err := env.streamer.Info(context.Background(), *handle)
	require.NoError(t, err)
	assert.Equal(t, "song.mp3", info.FileName)
	assert.Equal(t, "audio/mpeg", info.MIMEType)
	assert.Equal(t, int64(len(data)), info.Size)

	st, err := env.streamer.Open(context.Background(), *handle, 0, 0)
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, data, readStream(t, st))
}

func TestStreamer_OpenWindowOfLargeBlob(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{}, nil)
	data := testPayload(10 * 1024 * 1024)
	h := env.put("movie.mp4", "video/mp4", data)

	st, err := env.streamer.Open(context.Background(), h, 1048576, 2097152)
	require.NoError(t, err)
	defer st.Close()

	var chunks [][]byte
	for {
		chunk, err := st.NextChunk()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 1024*1024)
	assert.Len(t, chunks[1], 1024*1024)
	assert.Equal(t, data[1048576:3145728], append(chunks[0], chunks[1]...))
	assert.Equal(t, int64(4), env.clients[st.SessionID()].ReadCalls())
}

func TestStreamer_RangeCorrectness(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{}, nil)
	env.streamer = NewStreamer(env.pool, 4096, 1024)
	data := testPayload(10000)
	h := env.put("clip.bin", "application/octet-stream", data)

	tests := []struct {
		name     string
		offset   int64
		length   int64
		expected []byte
	}{
		{name: "whole blob", offset: 0, length: 0, expected: data},
		{name: "negative length reads to end", offset: 0, length: -1, expected: data},
		{name: "inner window", offset: 100, length: 50, expected: data[100:150]},
		{name: "unaligned window across chunks", offset: 4000, length: 5000, expected: data[4000:9000]},
		{name: "length past end is clamped", offset: 5000, length: 10000, expected: data[5000:]},
		{name: "tail", offset: 9990, length: 100, expected: data[9990:]},
		{name: "offset at size", offset: 10000, length: 0, expected: []byte{}},
		{name: "offset past size", offset: 20000, length: 5, expected: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := env.streamer.Open(context.Background(), h, tt.offset, tt.length)
			require.NoError(t, err)
			defer st.Close()

			got := readStream(t, st)
			assert.Equal(t, len(tt.expected), len(got))
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, int64(len(tt.expected)), st.Length())
		})
	}
}

func TestStreamer_NegativeOffset(t *testing.T) {
	env := newTestEnv(t, 1, pool.Options{}, nil)
	h := env.put("a.bin", "", []byte("abc"))

	_, err := env.streamer.Open(context.Background(), h, -1, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestStreamer_Failover(t *testing.T) {
	env := newTestEnv(t, 3, pool.Options{Selector: &pool.RoundRobinSelector{}}, nil)
	data := testPayload(5000)
	h := env.put("song.mp3", "audio/mpeg", data)
	env.clients[0].Hide(h.MessageID)
	env.clients[1].Hide(h.MessageID)

	info, err := env.streamer.Info(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), info.Size)

	// each hidden session refreshed once and retried once
	assert.Equal(t, int64(2), env.clients[0].GetCalls())
	assert.Equal(t, int64(2), env.clients[0].ResolveCalls())
	assert.Equal(t, int64(2), env.clients[1].GetCalls())
	assert.Equal(t, int64(1), env.clients[2].GetCalls())

	for i := 0; i < 6; i++ {
		st, err := env.streamer.Open(context.Background(), h, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, st.SessionID())
		assert.Equal(t, data, readStream(t, st))
		st.Close()
	}
}

func TestStreamer_Exhaustion(t *testing.T) {
	env := newTestEnv(t, 3, pool.Options{}, nil)
	h := env.put("song.mp3", "audio/mpeg", testPayload(100))
	for _, c := range env.clients {
		c.Hide(h.MessageID)
	}

	_, err := env.streamer.Info(context.Background(), h)
	require.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, transport.ErrMessageNotFound)

	for _, c := range env.clients {
		assert.Equal(t, int64(2), c.GetCalls())
		assert.Equal(t, int64(2), c.ResolveCalls())
	}

	_, err = env.streamer.Open(context.Background(), h, 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStreamer_UnknownMessage(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{}, nil)

	_, err := env.streamer.Info(context.Background(), Handle{Destination: testDestination, MessageID: 404})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStreamer_StaleCacheIsRefreshed(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{Selector: &pool.RoundRobinSelector{}}, nil)
	h := env.put("song.mp3", "audio/mpeg", testPayload(100))
	env.clients[0].Forget(testDestination)

	_, err := env.streamer.Info(context.Background(), h)
	require.NoError(t, err)

	assert.Equal(t, int64(2), env.clients[0].GetCalls())
	assert.Equal(t, int64(2), env.clients[0].ResolveCalls())
	assert.Zero(t, env.clients[1].GetCalls())
}

func TestStreamer_SharedRefreshSurvivesCancelledCaller(t *testing.T) {
	env := newTestEnv(t, 1, pool.Options{CallTimeout: 5 * time.Second}, nil)
	h := env.put("song.mp3", "audio/mpeg", testPayload(100))
	client := env.clients[0]
	client.Forget(testDestination)
	client.SetResolveDelay(200 * time.Millisecond)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := env.streamer.Info(ctxA, h)
		errA <- err
	}()
	require.Eventually(t, func() bool { return client.ResolveCalls() == 2 }, time.Second, time.Millisecond)

	errB := make(chan error, 1)
	go func() {
		_, err := env.streamer.Info(context.Background(), h)
		errB <- err
	}()
	require.Eventually(t, func() bool { return client.GetCalls() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)
	assert.NoError(t, <-errB)
	assert.Equal(t, int64(2), client.ResolveCalls())
}

func TestStreamer_TransientFailureMovesOnWithoutRefresh(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{Selector: &pool.RoundRobinSelector{}, CallTimeout: 50 * time.Millisecond}, nil)
	h := env.put("song.mp3", "audio/mpeg", testPayload(100))
	env.clients[0].SetGetDelay(time.Second)

	info, err := env.streamer.Info(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "song.mp3", info.FileName)

	assert.Equal(t, int64(1), env.clients[0].GetCalls())
	assert.Equal(t, int64(1), env.clients[0].ResolveCalls())
	assert.Equal(t, int64(1), env.clients[1].GetCalls())
}

func TestStreamer_OfflineSessionsAreSkipped(t *testing.T) {
	env := newTestEnv(t, 3, pool.Options{}, failStart(0, 2))
	h := env.put("song.mp3", "audio/mpeg", testPayload(100))

	for i := 0; i < 10; i++ {
		_, err := env.streamer.Info(context.Background(), h)
		require.NoError(t, err)
	}
	assert.Zero(t, env.clients[0].GetCalls())
	assert.Zero(t, env.clients[2].GetCalls())
	assert.Equal(t, int64(10), env.clients[1].GetCalls())
}

func TestStreamer_NoOnlineSessions(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{}, failStart(0, 1))
	h := env.put("song.mp3", "audio/mpeg", testPayload(100))

	_, err := env.streamer.Info(context.Background(), h)
	require.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, pool.ErrNoSessions)
}

func TestStreamer_DefaultInfo(t *testing.T) {
	env := newTestEnv(t, 1, pool.Options{}, nil)

	h := env.put("", "audio/mpeg", []byte("abc"))
	info, err := env.streamer.Info(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "file_1.mp3", info.FileName)

	h = env.put("clip.mkv", "", []byte("abc"))
	info, err = env.streamer.Info(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "video/x-matroska", info.MIMEType)

	h = env.put("", "", []byte("abc"))
	info, err = env.streamer.Info(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, defaultMIMEType, info.MIMEType)
	assert.True(t, strings.HasPrefix(info.FileName, "file_3"))
}

func TestStream_MidStreamFailure(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{}, nil)
	h := env.put("movie.mp4", "video/mp4", testPayload(4*1024*1024))
	reset := errors.New("connection reset")
	for _, c := range env.clients {
		c.FailReadsFrom(2*1024*1024, reset)
	}

	st, err := env.streamer.Open(context.Background(), h, 0, 0)
	require.NoError(t, err)
	defer st.Close()

	for i := 0; i < 2; i++ {
		chunk, err := st.NextChunk()
		require.NoError(t, err)
		assert.Len(t, chunk, 1024*1024)
	}

	_, err = st.NextChunk()
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, int64(2*1024*1024), streamErr.Offset)
	assert.ErrorIs(t, err, ErrStream)
	assert.ErrorIs(t, err, reset)

	_, again := st.NextChunk()
	assert.Same(t, streamErr, again)
}

func TestStream_CloseCancelsOnlyThatStream(t *testing.T) {
	env := newTestEnv(t, 1, pool.Options{}, nil)
	env.streamer = NewStreamer(env.pool, 1024, 1024)
	data := testPayload(4096)
	h := env.put("a.bin", "", data)
	env.clients[0].SetReadDelay(200 * time.Millisecond)

	closed, err := env.streamer.Open(context.Background(), h, 0, 0)
	require.NoError(t, err)
	other, err := env.streamer.Open(context.Background(), h, 1024, 1024)
	require.NoError(t, err)
	defer other.Close()

	var wg sync.WaitGroup
	var closedErr, otherErr error
	var otherChunk []byte
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, closedErr = closed.NextChunk()
	}()
	go func() {
		defer wg.Done()
		otherChunk, otherErr = other.NextChunk()
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, closed.Close())
	wg.Wait()

	assert.ErrorIs(t, closedErr, ErrStreamClosed)
	require.NoError(t, otherErr)
	assert.Equal(t, data[1024:2048], otherChunk)

	_, err = closed.NextChunk()
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, int64(1), env.pool.Primary().InFlight())
}

func TestStreamer_ConcurrentIsolation(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{}, nil)
	env.streamer = NewStreamer(env.pool, 64*1024, 16*1024)
	data := testPayload(1024 * 1024)
	h := env.put("song.mp3", "audio/mpeg", data)

	type window struct{ offset, length int64 }
	windows := []window{
		{0, 0}, {1, 1000}, {65535, 65537}, {500000, 0},
		{1024*1024 - 1, 10}, {300000, 200000}, {0, 1}, {777777, 111111},
	}

	results := make([][]byte, len(windows))
	errs := make([]error, len(windows))
	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := env.streamer.Open(context.Background(), h, w.offset, w.length)
			if err != nil {
				errs[i] = err
				return
			}
			defer st.Close()
			results[i], errs[i] = io.ReadAll(st)
		}()
	}
	wg.Wait()

	for i, w := range windows {
		require.NoError(t, errs[i])
		end := int64(len(data))
		if w.length > 0 && w.offset+w.length < end {
			end = w.offset + w.length
		}
		assert.Equal(t, data[w.offset:end], results[i], "window %d", i)
	}
	for _, s := range env.pool.Online() {
		assert.Zero(t, s.InFlight())
	}
}

func TestStreamer_InFlightCap(t *testing.T) {
	env := newTestEnv(t, 1, pool.Options{MaxInFlight: 1}, nil)
	h := env.put("a.bin", "", []byte("abc"))

	first, err := env.streamer.Open(context.Background(), h, 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = env.streamer.Open(ctx, h, 0, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Close())
	second, err := env.streamer.Open(context.Background(), h, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), readStream(t, second))
	second.Close()
}

func TestStreamer_Download(t *testing.T) {
	env := newTestEnv(t, 2, pool.Options{}, nil)
	data := testPayload(2*1024*1024 + 3)
	h := env.put("song.mp3", "audio/mpeg", data)

	path := filepath.Join(t.TempDir(), "out", "song.mp3")
	info, err := env.streamer.Download(context.Background(), h, path)
	require.NoError(t, err)
	assert.Equal(t, "song.mp3", info.FileName)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStreamer_DownloadMissingBlob(t *testing.T) {
	env := newTestEnv(t, 1, pool.Options{}, nil)
	path := filepath.Join(t.TempDir(), "missing.mp3")

	_, err := env.streamer.Download(context.Background(), Handle{Destination: testDestination, MessageID: 9}, path)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, path)
}
