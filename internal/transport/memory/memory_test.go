package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgulliver/mediabin/internal/transport"
)

const dest = int64(-100123)

func connected(t *testing.T, s *Server) *Client {
	t.Helper()
	c := s.NewClient("test")
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.ResolveDestination(context.Background(), dest))
	return c
}

func TestClient_ConnectErrorsAreConsumedInOrder(t *testing.T) {
	s := NewServer()
	c := s.NewClient("c")
	boom := errors.New("boom")
	c.FailConnect(boom, &transport.FloodWaitError{Wait: 1})

	assert.ErrorIs(t, c.Connect(context.Background()), boom)
	_, isFlood := transport.AsFloodWait(c.Connect(context.Background()))
	assert.True(t, isFlood)
	assert.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
}

func TestClient_GetMediaRequiresResolvedDestination(t *testing.T) {
	s := NewServer()
	s.CreateChannel(dest)
	id := s.Put(dest, Message{FileName: "a.bin", Data: []byte("x")})

	c := s.NewClient("c")
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.GetMedia(context.Background(), dest, id)
	assert.ErrorIs(t, err, transport.ErrDestinationUnresolved)

	require.NoError(t, c.ResolveDestination(context.Background(), dest))
	media, err := c.GetMedia(context.Background(), dest, id)
	require.NoError(t, err)
	assert.Equal(t, "a.bin", media.FileName)

	c.Forget(dest)
	_, err = c.GetMedia(context.Background(), dest, id)
	assert.ErrorIs(t, err, transport.ErrDestinationUnresolved)
}

func TestClient_ResolveUnknownChannel(t *testing.T) {
	c := NewServer().NewClient("c")
	require.NoError(t, c.Connect(context.Background()))

	assert.ErrorIs(t, c.ResolveDestination(context.Background(), 77), ErrChannelInvalid)
}

func TestClient_HiddenAndTextMessages(t *testing.T) {
	s := NewServer()
	s.CreateChannel(dest)
	media := s.Put(dest, Message{Data: []byte("x")})
	text := s.Put(dest, Message{Caption: "hello"})

	c := connected(t, s)
	c.Hide(media)

	_, err := c.GetMedia(context.Background(), dest, media)
	assert.ErrorIs(t, err, transport.ErrMessageNotFound)
	_, err = c.GetMedia(context.Background(), dest, text)
	assert.ErrorIs(t, err, transport.ErrMessageNotFound)
	_, err = c.GetMedia(context.Background(), dest, 999)
	assert.ErrorIs(t, err, transport.ErrMessageNotFound)
}

func TestClient_ReadAt(t *testing.T) {
	s := NewServer()
	s.CreateChannel(dest)
	id := s.Put(dest, Message{Data: []byte("0123456789")})
	c := connected(t, s)

	media, err := c.GetMedia(context.Background(), dest, id)
	require.NoError(t, err)

	data, err := c.ReadAt(context.Background(), media, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(data))

	data, err = c.ReadAt(context.Background(), media, 8, 100)
	require.NoError(t, err)
	assert.Equal(t, "89", string(data))

	data, err = c.ReadAt(context.Background(), media, 10, 100)
	require.NoError(t, err)
	assert.Empty(t, data)

	broken := errors.New("connection reset")
	c.FailReadsFrom(5, broken)
	_, err = c.ReadAt(context.Background(), media, 5, 1)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, int64(4), c.ReadCalls())
}

func TestClient_SendMedia(t *testing.T) {
	s := NewServer()
	s.CreateChannel(dest)
	c := connected(t, s)

	dir := t.TempDir()
	path := filepath.Join(dir, "song.mp3")
	payload := make([]byte, 200*1024)
	require.NoError(t, os.WriteFile(path, payload, 0644))

	var calls int
	var last int64
	id, err := c.SendMedia(context.Background(), dest, &transport.SendRequest{
		Path:     path,
		FileName: "song.mp3",
		MIMEType: "audio/mpeg",
		Caption:  "caption",
		Progress: func(sent, total int64) {
			calls++
			last = sent
			assert.Equal(t, int64(len(payload)), total)
		},
	})
	require.NoError(t, err)

	msg, ok := s.Message(dest, id)
	require.True(t, ok)
	assert.Equal(t, "caption", msg.Caption)
	assert.Len(t, msg.Data, len(payload))
	assert.Equal(t, 4, calls)
	assert.Equal(t, int64(len(payload)), last)
	assert.Equal(t, 1, s.Count(dest))
}
