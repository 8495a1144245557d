package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/internal/blob"
)

var errUnsatisfiable = errors.New("range not satisfiable")

// byteRange is an inclusive byte range within a blob
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// parseRange parses a single-range Range header against size. A missing or
// malformed header yields nil and the whole blob is served. Only the first
// range of a multi-range request is honored.
func parseRange(header string, size int64) (*byteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return nil, nil
	}
	spec, _, _ = strings.Cut(spec, ",")
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, nil
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return nil, nil
		}
		if n == 0 || size == 0 {
			return nil, errUnsatisfiable
		}
		return &byteRange{start: max(size-n, 0), end: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}
	if start >= size {
		return nil, errUnsatisfiable
	}

	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return nil, nil
		}
		end = min(end, size-1)
	}

	return &byteRange{start: start, end: end}, nil
}

func handleStream(lib LibraryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, ok := lookupFile(c, lib)
		if !ok {
			return
		}

		info, err := lib.Info(c.Request.Context(), file)
		if err != nil {
			writeBlobError(c, file, err)
			return
		}

		window, err := parseRange(c.GetHeader("Range"), info.Size)
		if err != nil {
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
			c.JSON(http.StatusRequestedRangeNotSatisfiable, gin.H{"error": err.Error()})
			return
		}

		status := http.StatusOK
		offset, length := int64(0), info.Size
		if window != nil {
			status = http.StatusPartialContent
			offset, length = window.start, window.length()
		}

		body := c.Request.Method != http.MethodHead && length > 0
		var st *blob.Stream
		if body {
			st, err = lib.Open(c.Request.Context(), file, offset, length)
			if err != nil {
				writeBlobError(c, file, err)
				return
			}
			defer st.Close()
		}

		if window != nil {
			c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", window.start, window.end, info.Size))
		}
		c.Header("Accept-Ranges", "bytes")
		c.Header("Content-Type", info.MIMEType)
		c.Header("Content-Length", strconv.FormatInt(length, 10))
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Header("X-Accel-Buffering", "no")

		if !body {
			c.Status(status)
			return
		}

		log.Debug().
			Str("id", file.ID.String()).
			Int64("offset", offset).
			Int64("length", length).
			Int("session", st.SessionID()).
			Msg("Streaming blob")

		c.Status(status)
		for {
			chunk, err := st.NextChunk()
			if len(chunk) > 0 {
				if _, werr := c.Writer.Write(chunk); werr != nil {
					log.Debug().Err(werr).Str("id", file.ID.String()).Msg("Client went away during stream")
					return
				}
				c.Writer.Flush()
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				// Headers are already sent; drop the connection.
				log.Error().Err(err).Str("id", file.ID.String()).Msg("Stream failed")
				c.Abort()
				return
			}
		}
	}
}
