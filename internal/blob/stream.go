package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/internal/metrics"
	"github.com/lgulliver/mediabin/internal/pool"
	"github.com/lgulliver/mediabin/internal/transport"
)

const (
	DefaultChunkSize   = 1024 * 1024
	DefaultRequestSize = 512 * 1024
)

// lookupOutcome tags what one session concluded about a blob.
type lookupOutcome int

const (
	lookupFound lookupOutcome = iota
	lookupNotFound
	lookupTransient
)

func (o lookupOutcome) String() string {
	switch o {
	case lookupFound:
		return "found"
	case lookupNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

type lookupResult struct {
	outcome lookupOutcome
	media   *transport.Media
	err     error
}

// Streamer looks blobs up across the pool and streams byte ranges of them.
type Streamer struct {
	pool        *pool.Pool
	chunkSize   int
	requestSize int
}

// NewStreamer creates a streamer emitting chunks of chunkSize bytes, each
// assembled from transport reads of at most requestSize bytes. Non-positive
// sizes select the defaults.
func NewStreamer(p *pool.Pool, chunkSize, requestSize int) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if requestSize <= 0 || requestSize > chunkSize {
		requestSize = min(DefaultRequestSize, chunkSize)
	}
	return &Streamer{pool: p, chunkSize: chunkSize, requestSize: requestSize}
}

// Info fetches the current metadata of a blob. It starts on a session chosen
// by the pool's selector and walks every other online session until one can
// see the message.
func (s *Streamer) Info(ctx context.Context, h Handle) (*Info, error) {
	media, _, err := s.locate(ctx, h)
	if err != nil {
		return nil, err
	}
	return infoFromMedia(h, media), nil
}

// Open starts a stream over [offset, offset+length) of a blob. A length of
// zero or less, or one past the end, reads to the end; an offset at or past
// the end yields an empty stream. The stream stays on the session that
// resolved the blob and must be closed.
func (s *Streamer) Open(ctx context.Context, h Handle, offset, length int64) (*Stream, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrInvalidRange, offset)
	}

	release, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	media, session, err := s.locate(ctx, h)
	if err != nil {
		release()
		return nil, err
	}

	remaining := max(media.Size-offset, 0)
	if length > 0 && length < remaining {
		remaining = length
	}

	streamCtx, cancel := context.WithCancel(ctx)
	st := &Stream{
		streamer:  s,
		handle:    h,
		info:      infoFromMedia(h, media),
		media:     media,
		session:   session,
		ctx:       streamCtx,
		cancel:    cancel,
		release:   release,
		end:       session.Begin(),
		start:     offset,
		offset:    offset,
		length:    remaining,
		remaining: remaining,
	}
	metrics.StreamsActive.Inc()

	log.Debug().Str("handle", h.String()).Int("session", session.ID).
		Int64("offset", offset).Int64("length", remaining).Msg("Stream opened")
	return st, nil
}

// Download writes a whole blob to path. The file appears only once the
// download completed.
func (s *Streamer) Download(ctx context.Context, h Handle, path string) (*Info, error) {
	st, err := s.Open(ctx, h, 0, 0)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, st); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}

	return st.Info(), nil
}

// locate finds a session that can see the blob, starting at the selector's
// pick and wrapping around the online sessions.
func (s *Streamer) locate(ctx context.Context, h Handle) (*transport.Media, *pool.Session, error) {
	first, err := s.pool.Pick()
	if err != nil {
		metrics.LookupsTotal.WithLabelValues(metrics.ResultNotFound).Inc()
		return nil, nil, fmt.Errorf("%w: message %d: %w", ErrNotFound, h.MessageID, err)
	}

	var lastErr error
	for i, session := range s.pool.ScanFrom(first) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		res := s.lookupOn(ctx, session, h)
		if res.outcome == lookupFound {
			if i > 0 {
				metrics.FailoversTotal.Inc()
				log.Info().Str("handle", h.String()).Int("from", first.ID).Int("to", session.ID).Msg("Lookup failed over to another session")
			}
			metrics.LookupsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
			return res.media, session, nil
		}

		log.Debug().Err(res.err).Str("handle", h.String()).Int("session", session.ID).
			Str("outcome", res.outcome.String()).Msg("Session could not see message")
		lastErr = res.err
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	metrics.LookupsTotal.WithLabelValues(metrics.ResultNotFound).Inc()
	log.Warn().Err(lastErr).Str("handle", h.String()).Msg("Message not visible on any session")
	if lastErr == nil {
		return nil, nil, fmt.Errorf("%w: message %d", ErrNotFound, h.MessageID)
	}
	return nil, nil, fmt.Errorf("%w: message %d: %w", ErrNotFound, h.MessageID, lastErr)
}

// lookupOn asks one session for the message. A miss refreshes the session's
// destination cache once and retries once; transient failures move on.
func (s *Streamer) lookupOn(ctx context.Context, session *pool.Session, h Handle) lookupResult {
	res := s.fetch(ctx, session, h)
	if res.outcome != lookupNotFound || ctx.Err() != nil {
		return res
	}

	metrics.CacheRefreshesTotal.Inc()
	if err := session.Refresh(ctx, h.Destination); err != nil {
		return lookupResult{outcome: lookupTransient, err: fmt.Errorf("failed to refresh destination: %w", err)}
	}

	return s.fetch(ctx, session, h)
}

func (s *Streamer) fetch(ctx context.Context, session *pool.Session, h Handle) lookupResult {
	end := session.Begin()
	defer end()

	callCtx, cancel := s.pool.CallContext(ctx)
	defer cancel()

	media, err := session.Client().GetMedia(callCtx, h.Destination, h.MessageID)
	switch {
	case err == nil:
		return lookupResult{outcome: lookupFound, media: media}
	case errors.Is(err, transport.ErrMessageNotFound), errors.Is(err, transport.ErrDestinationUnresolved):
		return lookupResult{outcome: lookupNotFound, err: err}
	default:
		return lookupResult{outcome: lookupTransient, err: err}
	}
}

func infoFromMedia(h Handle, media *transport.Media) *Info {
	mimeType := media.MIMEType
	if mimeType == "" {
		mimeType = mimeTypeByName(media.FileName)
	}
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	name := media.FileName
	if name == "" {
		name = fmt.Sprintf("file_%d%s", h.MessageID, extensionFor(mimeType))
	}

	return &Info{FileName: name, MIMEType: mimeType, Size: media.Size}
}

// Stream is a lazy byte stream over one window of a blob. A Stream is not
// safe for concurrent reads; Close may be called from any goroutine and
// cancels only this stream.
type Stream struct {
	streamer *Streamer
	handle   Handle
	info     *Info
	media    *transport.Media
	session  *pool.Session

	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	end     func()

	start     int64
	offset    int64
	length    int64
	remaining int64
	pending   []byte
	err       error

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

// Info returns the blob metadata the stream was opened with.
func (st *Stream) Info() *Info { return st.info }

// Offset returns the first byte of the window.
func (st *Stream) Offset() int64 { return st.start }

// Length returns the number of bytes the stream will emit when it completes.
func (st *Stream) Length() int64 { return st.length }

// SessionID returns the pool index of the session serving the stream.
func (st *Stream) SessionID() int { return st.session.ID }

// NextChunk returns the next chunk of the window, at most the streamer's
// chunk size. It returns io.EOF once the window or the data is exhausted.
// Errors from the transport are returned as *StreamError.
func (st *Stream) NextChunk() ([]byte, error) {
	if st.isClosed() {
		return nil, ErrStreamClosed
	}
	if st.err != nil {
		return nil, st.err
	}
	if st.remaining <= 0 {
		return nil, io.EOF
	}

	want := int(min(int64(st.streamer.chunkSize), st.remaining))
	chunk := make([]byte, 0, want)
	client := st.session.Client()
	eof := false

	for len(chunk) < want {
		limit := min(st.streamer.requestSize, want-len(chunk))

		callCtx, cancel := st.streamer.pool.CallContext(st.ctx)
		data, err := client.ReadAt(callCtx, st.media, st.offset, limit)
		cancel()
		if err != nil {
			if st.isClosed() {
				return nil, ErrStreamClosed
			}
			return nil, st.fail(err)
		}
		if len(data) == 0 {
			eof = true
			break
		}
		if len(data) > limit {
			data = data[:limit]
		}
		chunk = append(chunk, data...)
		st.offset += int64(len(data))
	}

	st.remaining -= int64(len(chunk))
	if eof {
		st.remaining = 0
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}

	metrics.StreamedBytesTotal.Add(float64(len(chunk)))
	return chunk, nil
}

// Read implements io.Reader over NextChunk.
func (st *Stream) Read(p []byte) (int, error) {
	if len(st.pending) == 0 {
		chunk, err := st.NextChunk()
		if err != nil {
			return 0, err
		}
		st.pending = chunk
	}
	n := copy(p, st.pending)
	st.pending = st.pending[n:]
	return n, nil
}

// Close ends the stream and cancels any transport read in progress.
func (st *Stream) Close() error {
	st.closeOnce.Do(func() {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()

		st.cancel()
		st.end()
		st.release()
		metrics.StreamsActive.Dec()
	})
	return nil
}

func (st *Stream) isClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

func (st *Stream) fail(err error) error {
	st.err = &StreamError{Handle: st.handle, Offset: st.offset, Err: err}
	metrics.StreamErrorsTotal.Inc()
	log.Error().Err(err).Str("handle", st.handle.String()).Int("session", st.session.ID).
		Int64("offset", st.offset).Msg("Stream failed")
	return st.err
}
