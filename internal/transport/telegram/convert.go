package telegram

import (
	"errors"
	"time"

	"github.com/gotd/td/tg"

	"github.com/lgulliver/mediabin/internal/transport"
)

const (
	// upload.getFile in precise mode wants 4 KiB aligned offsets and limits
	// and never spans a 1 MiB boundary.
	blockAlignment = 4 * 1024
	blockWindow    = 1024 * 1024

	botAPIChannelPrefix = 1_000_000_000_000
)

// ChannelID converts a bot API style channel id (-100xxxxxxxxxx) to the raw
// MTProto channel id. Positive ids are returned unchanged.
func ChannelID(destination int64) int64 {
	if destination >= 0 {
		return destination
	}
	id := -destination
	if id > botAPIChannelPrefix {
		id -= botAPIChannelPrefix
	}
	return id
}

// alignRequest widens [offset, offset+limit) to a request upload.getFile
// accepts and returns the aligned offset, the request limit and how many
// leading bytes to drop from the response.
func alignRequest(offset int64, limit int) (aligned int64, blockLimit int, skip int) {
	aligned = offset - offset%blockAlignment
	skip = int(offset - aligned)

	want := limit + skip
	blockLimit = (want + blockAlignment - 1) / blockAlignment * blockAlignment

	if room := blockWindow - int(aligned%blockWindow); blockLimit > room {
		blockLimit = room
	}
	return aligned, blockLimit, skip
}

func messagesOf(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch r := res.(type) {
	case *tg.MessagesChannelMessages:
		return r.Messages
	case *tg.MessagesMessages:
		return r.Messages
	case *tg.MessagesMessagesSlice:
		return r.Messages
	default:
		return nil
	}
}

func mediaFromDocument(messageID int, doc *tg.Document) *transport.Media {
	media := &transport.Media{
		MessageID: messageID,
		MIMEType:  doc.MimeType,
		Size:      doc.Size,
		Location: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
	}
	for _, attr := range doc.Attributes {
		if name, ok := attr.(*tg.DocumentAttributeFilename); ok {
			media.FileName = name.FileName
		}
	}
	return media
}

func documentAttributes(attrs []transport.Attribute) []tg.DocumentAttributeClass {
	out := make([]tg.DocumentAttributeClass, 0, len(attrs))
	for _, a := range attrs {
		switch a.Kind {
		case transport.AttributeVideo:
			out = append(out, &tg.DocumentAttributeVideo{
				SupportsStreaming: a.SupportsStreaming,
				Duration:          a.Duration.Seconds(),
			})
		case transport.AttributeAudio:
			out = append(out, &tg.DocumentAttributeAudio{
				Duration:  int(a.Duration / time.Second),
				Title:     a.Title,
				Performer: a.Performer,
			})
		default:
			out = append(out, &tg.DocumentAttributeFilename{FileName: a.FileName})
		}
	}
	return out
}

func sentMessageID(updates tg.UpdatesClass, randomID int64) (int, error) {
	var list []tg.UpdateClass
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID, nil
	case *tg.Updates:
		list = u.Updates
	case *tg.UpdatesCombined:
		list = u.Updates
	}

	fallback := 0
	for _, upd := range list {
		switch v := upd.(type) {
		case *tg.UpdateMessageID:
			if v.RandomID == randomID {
				return v.ID, nil
			}
		case *tg.UpdateNewChannelMessage:
			if msg, ok := v.Message.(*tg.Message); ok && fallback == 0 {
				fallback = msg.ID
			}
		}
	}
	if fallback != 0 {
		return fallback, nil
	}
	return 0, errors.New("sent message id missing from updates")
}
