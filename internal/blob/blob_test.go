package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lgulliver/mediabin/internal/pool"
	"github.com/lgulliver/mediabin/internal/transport"
	"github.com/lgulliver/mediabin/internal/transport/memory"
)

const testDestination = int64(-1009876543210)

type testEnv struct {
	pool     *pool.Pool
	server   *memory.Server
	clients  []*memory.Client
	uploader *Uploader
	streamer *Streamer
}

// newTestEnv starts a pool of size sessions on an in-memory server. Connect
// failures queued by prepare are applied before startup.
func newTestEnv(t *testing.T, size int, opts pool.Options, prepare func(clients []*memory.Client)) *testEnv {
	t.Helper()

	server := memory.NewServer()
	server.CreateChannel(testDestination)

	clients := make([]*memory.Client, size)
	opts.Size = size
	p, err := pool.New(testDestination, opts, func(id int) (transport.Client, error) {
		clients[id] = server.NewClient(fmt.Sprintf("worker_%d", id))
		return clients[id], nil
	})
	require.NoError(t, err)

	if prepare != nil {
		prepare(clients)
	}
	require.NoError(t, p.StartAll(context.Background()))
	t.Cleanup(func() { _ = p.StopAll(context.Background()) })

	return &testEnv{
		pool:     p,
		server:   server,
		clients:  clients,
		uploader: NewUploader(p, 0),
		streamer: NewStreamer(p, 0, 0),
	}
}

func failStart(ids ...int) func([]*memory.Client) {
	return func(clients []*memory.Client) {
		for _, id := range ids {
			clients[id].FailConnect(errors.New("down"), errors.New("down"), errors.New("down"))
		}
	}
}

// put stores data directly in the bin channel and returns its handle.
func (e *testEnv) put(name, mimeType string, data []byte) Handle {
	id := e.server.Put(testDestination, memory.Message{FileName: name, MIMEType: mimeType, Data: data})
	return Handle{Destination: testDestination, MessageID: id}
}

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i*31 + i/4096) % 251)
	}
	return data
}

func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func readStream(t *testing.T, st *Stream) []byte {
	t.Helper()
	data, err := io.ReadAll(st)
	require.NoError(t, err)
	return data
}
