// Package telegram implements transport.Client on top of a bot account
// connected through MTProto.
package telegram

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/internal/transport"
)

// Options configures one connection.
type Options struct {
	Name        string
	AppID       int
	AppHash     string
	BotToken    string
	SessionPath string
}

// Client is a transport.Client backed by one MTProto connection.
type Client struct {
	opts Options

	mu       sync.RWMutex
	api      *tg.Client
	cancel   context.CancelFunc
	done     chan error
	channels map[int64]*tg.InputChannel
}

var _ transport.Client = (*Client)(nil)

// NewClient creates a disconnected client.
func NewClient(opts Options) *Client {
	return &Client{
		opts:     opts,
		channels: make(map[int64]*tg.InputChannel),
	}
}

// Connect starts the MTProto connection in the background and logs in with
// the bot token unless the stored session is already authorized.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api != nil {
		return nil
	}

	client := telegram.NewClient(c.opts.AppID, c.opts.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: c.opts.SessionPath},
		NoUpdates:      true,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		return wrapError("connect", err)
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}

	if err := authorize(ctx, client, c.opts.BotToken); err != nil {
		cancel()
		<-done
		return wrapError("authorize", err)
	}

	c.api = client.API()
	c.cancel = cancel
	c.done = done

	log.Debug().Str("client", c.opts.Name).Str("session", c.opts.SessionPath).Msg("telegram client connected")
	return nil
}

func authorize(ctx context.Context, client *telegram.Client, token string) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if _, err := client.Auth().Bot(ctx, token); err != nil {
		return fmt.Errorf("bot login: %w", err)
	}
	return nil
}

// Disconnect stops the background connection.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.api, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("disconnect: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveDestination looks up the channel access hash and caches it.
func (c *Client) ResolveDestination(ctx context.Context, destination int64) error {
	api, err := c.client()
	if err != nil {
		return err
	}

	id := ChannelID(destination)
	res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: id}})
	if err != nil {
		return wrapError("resolve channel", err)
	}

	var chats []tg.ChatClass
	switch r := res.(type) {
	case *tg.MessagesChats:
		chats = r.Chats
	case *tg.MessagesChatsSlice:
		chats = r.Chats
	}

	for _, chat := range chats {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.ID != id {
			continue
		}
		c.mu.Lock()
		c.channels[destination] = &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
		c.mu.Unlock()
		return nil
	}

	return fmt.Errorf("resolve channel %d: not visible to this account", id)
}

// GetMedia fetches a message from the channel and describes its document.
func (c *Client) GetMedia(ctx context.Context, destination int64, messageID int) (*transport.Media, error) {
	api, err := c.client()
	if err != nil {
		return nil, err
	}
	channel, err := c.inputChannel(destination)
	if err != nil {
		return nil, err
	}

	res, err := api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: channel,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}},
	})
	if err != nil {
		if tgerr.Is(err, "CHANNEL_INVALID", "CHANNEL_PRIVATE") {
			c.mu.Lock()
			delete(c.channels, destination)
			c.mu.Unlock()
			return nil, fmt.Errorf("get message %d: %w", messageID, transport.ErrDestinationUnresolved)
		}
		return nil, wrapError("get message", err)
	}

	for _, m := range messagesOf(res) {
		msg, ok := m.(*tg.Message)
		if !ok || msg.ID != messageID {
			continue
		}
		media, ok := msg.Media.(*tg.MessageMediaDocument)
		if !ok {
			break
		}
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			break
		}
		return mediaFromDocument(msg.ID, doc), nil
	}

	return nil, transport.ErrMessageNotFound
}

// ReadAt downloads part of a document. Requests are aligned to the block
// rules of upload.getFile in precise mode and trimmed back to the caller's
// window, so fewer than limit bytes may be returned.
func (c *Client) ReadAt(ctx context.Context, media *transport.Media, offset int64, limit int) ([]byte, error) {
	api, err := c.client()
	if err != nil {
		return nil, err
	}
	loc, ok := media.Location.(*tg.InputDocumentFileLocation)
	if !ok {
		return nil, fmt.Errorf("unexpected media location %T", media.Location)
	}
	if limit <= 0 || offset >= media.Size {
		return nil, nil
	}

	aligned, blockLimit, skip := alignRequest(offset, limit)
	res, err := api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Precise:  true,
		Location: loc,
		Offset:   aligned,
		Limit:    blockLimit,
	})
	if err != nil {
		return nil, wrapError("get file", err)
	}

	file, ok := res.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("get file: unsupported response %T", res)
	}

	data := file.Bytes
	if skip >= len(data) {
		return nil, nil
	}
	data = data[skip:]
	if len(data) > limit {
		data = data[:limit]
	}
	return data, nil
}

// SendMedia uploads the file and its optional thumbnail and posts them as a
// document message.
func (c *Client) SendMedia(ctx context.Context, destination int64, req *transport.SendRequest) (int, error) {
	api, err := c.client()
	if err != nil {
		return 0, err
	}
	channel, err := c.inputChannel(destination)
	if err != nil {
		return 0, err
	}

	up := uploader.NewUploader(api).WithPartSize(uploader.MaximumPartSize)
	if req.Progress != nil {
		up = up.WithProgress(progressFunc(req.Progress))
	}
	file, err := up.FromPath(ctx, req.Path)
	if err != nil {
		return 0, wrapError("upload file", err)
	}

	var thumb tg.InputFileClass
	if req.ThumbPath != "" {
		thumb, err = uploader.NewUploader(api).FromPath(ctx, req.ThumbPath)
		if err != nil {
			return 0, wrapError("upload thumbnail", err)
		}
	}

	randomID, err := randomInt64()
	if err != nil {
		return 0, err
	}

	updates, err := api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer: &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
		Media: &tg.InputMediaUploadedDocument{
			File:       file,
			Thumb:      thumb,
			MimeType:   req.MIMEType,
			Attributes: documentAttributes(req.Attributes),
		},
		Message:  req.Caption,
		RandomID: randomID,
	})
	if err != nil {
		return 0, wrapError("send media", err)
	}

	return sentMessageID(updates, randomID)
}

func (c *Client) client() (*tg.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil {
		return nil, transport.ErrNotConnected
	}
	return c.api, nil
}

func (c *Client) inputChannel(destination int64) (*tg.InputChannel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[destination]
	if !ok {
		return nil, transport.ErrDestinationUnresolved
	}
	return ch, nil
}

type progressFunc func(sent, total int64)

func (f progressFunc) Chunk(ctx context.Context, state uploader.ProgressState) error {
	f(state.Uploaded, state.Total)
	return nil
}

func wrapError(op string, err error) error {
	if d, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("%s: %w", op, &transport.FloodWaitError{Wait: d})
	}
	return fmt.Errorf("%s: %w", op, err)
}

func randomInt64() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("random id: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
