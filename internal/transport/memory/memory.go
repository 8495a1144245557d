// Package memory is an in-process transport. One Server holds the channels
// and their messages; every Client is an independent connection with its own
// destination cache, so clients can be made to disagree about what they see.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lgulliver/mediabin/internal/transport"
)

const progressStep = 64 * 1024

// ErrChannelInvalid is returned when resolving a destination the server does
// not host.
var ErrChannelInvalid = errors.New("channel invalid")

// Message is a stored upload.
type Message struct {
	ID         int
	FileName   string
	MIMEType   string
	Caption    string
	Data       []byte
	Thumb      []byte
	Attributes []transport.Attribute
}

type location struct {
	destination int64
	messageID   int
}

// Server is the shared state behind every Client.
type Server struct {
	mu       sync.RWMutex
	channels map[int64]map[int]*Message
	nextID   map[int64]int
}

// NewServer creates an empty server.
func NewServer() *Server {
	return &Server{
		channels: make(map[int64]map[int]*Message),
		nextID:   make(map[int64]int),
	}
}

// CreateChannel makes a destination available.
func (s *Server) CreateChannel(destination int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[destination]; !ok {
		s.channels[destination] = make(map[int]*Message)
	}
}

// Put stores a message directly and returns its id.
func (s *Server) Put(destination int64, msg Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[destination]
	if !ok {
		ch = make(map[int]*Message)
		s.channels[destination] = ch
	}
	s.nextID[destination]++
	msg.ID = s.nextID[destination]
	stored := msg
	ch[msg.ID] = &stored
	return msg.ID
}

// Message returns a copy of a stored message.
func (s *Server) Message(destination int64, id int) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.channels[destination][id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// Count returns the number of messages in a destination.
func (s *Server) Count(destination int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels[destination])
}

func (s *Server) hasChannel(destination int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[destination]
	return ok
}

func (s *Server) lookup(destination int64, id int) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.channels[destination][id]
	return msg, ok
}

// Client is one connection to a Server.
type Client struct {
	server *Server
	name   string

	mu          sync.Mutex
	connected   bool
	resolved    map[int64]bool
	connectErrs []error
	resolveErr  error
	sendErr     error
	hidden      map[int]bool
	readFailAt  int64
	readErr     error
	getDelay     time.Duration
	readDelay    time.Duration
	resolveDelay time.Duration

	getCalls     atomic.Int64
	resolveCalls atomic.Int64
	readCalls    atomic.Int64
}

// NewClient creates a disconnected client.
func (s *Server) NewClient(name string) *Client {
	return &Client{
		server:     s,
		name:       name,
		resolved:   make(map[int64]bool),
		hidden:     make(map[int]bool),
		readFailAt: -1,
	}
}

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// FailConnect queues errors returned by the next Connect calls, in order.
func (c *Client) FailConnect(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErrs = append(c.connectErrs, errs...)
}

// FailResolve makes ResolveDestination fail with err; nil restores it.
func (c *Client) FailResolve(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveErr = err
}

// FailSend makes SendMedia fail with err; nil restores it.
func (c *Client) FailSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// FailReadsFrom makes ReadAt fail with err for any read starting at or past
// offset.
func (c *Client) FailReadsFrom(offset int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readFailAt = offset
	c.readErr = err
}

// Hide makes messages invisible to this client only.
func (c *Client) Hide(ids ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.hidden[id] = true
	}
}

// Forget drops the cached destination so the next lookup misses.
func (c *Client) Forget(destination int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resolved, destination)
}

// SetGetDelay delays every GetMedia call.
func (c *Client) SetGetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getDelay = d
}

// SetResolveDelay delays every ResolveDestination call.
func (c *Client) SetResolveDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveDelay = d
}

// SetReadDelay delays every ReadAt call.
func (c *Client) SetReadDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDelay = d
}

// GetCalls returns the number of GetMedia calls made.
func (c *Client) GetCalls() int64 { return c.getCalls.Load() }

// ResolveCalls returns the number of ResolveDestination calls made.
func (c *Client) ResolveCalls() int64 { return c.resolveCalls.Load() }

// ReadCalls returns the number of ReadAt calls made.
func (c *Client) ReadCalls() int64 { return c.readCalls.Load() }

// Connected reports whether Connect succeeded and Disconnect was not called.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	c.connected = true
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *Client) ResolveDestination(ctx context.Context, destination int64) error {
	c.resolveCalls.Add(1)

	c.mu.Lock()
	delay := c.resolveDelay
	c.mu.Unlock()
	if err := sleep(ctx, delay); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return transport.ErrNotConnected
	}
	if c.resolveErr != nil {
		return c.resolveErr
	}
	if !c.server.hasChannel(destination) {
		return fmt.Errorf("resolve %d: %w", destination, ErrChannelInvalid)
	}
	c.resolved[destination] = true
	return nil
}

func (c *Client) GetMedia(ctx context.Context, destination int64, messageID int) (*transport.Media, error) {
	c.getCalls.Add(1)

	c.mu.Lock()
	delay := c.getDelay
	c.mu.Unlock()
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, transport.ErrNotConnected
	}
	if !c.resolved[destination] {
		return nil, transport.ErrDestinationUnresolved
	}
	msg, ok := c.server.lookup(destination, messageID)
	if !ok || c.hidden[messageID] || msg.Data == nil {
		return nil, transport.ErrMessageNotFound
	}

	return &transport.Media{
		MessageID: msg.ID,
		FileName:  msg.FileName,
		MIMEType:  msg.MIMEType,
		Size:      int64(len(msg.Data)),
		Location:  location{destination: destination, messageID: messageID},
	}, nil
}

func (c *Client) ReadAt(ctx context.Context, media *transport.Media, offset int64, limit int) ([]byte, error) {
	c.readCalls.Add(1)

	c.mu.Lock()
	delay := c.readDelay
	connected := c.connected
	failAt, readErr := c.readFailAt, c.readErr
	c.mu.Unlock()

	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	if !connected {
		return nil, transport.ErrNotConnected
	}
	if failAt >= 0 && offset >= failAt {
		return nil, readErr
	}

	loc, ok := media.Location.(location)
	if !ok {
		return nil, fmt.Errorf("unexpected media location %T", media.Location)
	}
	msg, ok := c.server.lookup(loc.destination, loc.messageID)
	if !ok {
		return nil, transport.ErrMessageNotFound
	}

	size := int64(len(msg.Data))
	if offset >= size || limit <= 0 {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > size {
		end = size
	}
	out := make([]byte, end-offset)
	copy(out, msg.Data[offset:end])
	return out, nil
}

func (c *Client) SendMedia(ctx context.Context, destination int64, req *transport.SendRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	connected, resolved, sendErr := c.connected, c.resolved[destination], c.sendErr
	c.mu.Unlock()

	if !connected {
		return 0, transport.ErrNotConnected
	}
	if !resolved {
		return 0, transport.ErrDestinationUnresolved
	}
	if sendErr != nil {
		return 0, sendErr
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return 0, fmt.Errorf("read upload: %w", err)
	}
	var thumb []byte
	if req.ThumbPath != "" {
		if thumb, err = os.ReadFile(req.ThumbPath); err != nil {
			return 0, fmt.Errorf("read thumbnail: %w", err)
		}
	}

	total := int64(len(data))
	if req.Progress != nil {
		for sent := int64(0); sent < total; {
			sent += progressStep
			if sent > total {
				sent = total
			}
			req.Progress(sent, total)
		}
	}

	attrs := make([]transport.Attribute, len(req.Attributes))
	copy(attrs, req.Attributes)

	return c.server.Put(destination, Message{
		FileName:   req.FileName,
		MIMEType:   req.MIMEType,
		Caption:    req.Caption,
		Data:       data,
		Thumb:      thumb,
		Attributes: attrs,
	}), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
