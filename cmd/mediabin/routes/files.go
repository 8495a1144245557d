package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/cmd/mediabin/middleware"
	"github.com/lgulliver/mediabin/internal/blob"
	"github.com/lgulliver/mediabin/internal/library"
	"github.com/lgulliver/mediabin/pkg/types"
)

const defaultPerPage = 50

// FileRoutes sets up media file management and streaming routes
func FileRoutes(api *gin.RouterGroup, lib LibraryService, spooler Spooler, validator middleware.TokenValidator) {
	files := api.Group("/files")
	files.Use(middleware.AuthMiddleware(validator))
	{
		files.POST("", handleUpload(lib, spooler))
		files.GET("", handleListFiles(lib))
		files.GET("/:id", handleGetFile(lib))
		files.DELETE("/:id", handleDeleteFile(lib))
		files.GET("/:id/info", handleFileInfo(lib))
	}

	stream := api.Group("/stream")
	stream.Use(middleware.AuthMiddleware(validator))
	{
		stream.GET("/:id", handleStream(lib))
		stream.HEAD("/:id", handleStream(lib))
	}
}

func handleUpload(lib LibraryService, spooler Spooler) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}

		req := library.IngestRequest{
			Title:     c.PostForm("title"),
			Artist:    c.PostForm("artist"),
			Thumbnail: c.PostForm("thumbnail"),
		}
		if d := c.PostForm("duration"); d != "" {
			req.Duration, err = strconv.Atoi(d)
			if err != nil || req.Duration < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
				return
			}
		}
		if subject, ok := middleware.GetSubjectFromContext(c); ok {
			req.UploadedBy = subject
		}

		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
		defer src.Close()

		spooled, err := spooler.Spool(c.Request.Context(), fileHeader.Filename, src)
		if err != nil {
			log.Error().Err(err).Str("file", fileHeader.Filename).Msg("Failed to spool upload")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}
		defer func() {
			if err := spooler.Remove(spooled); err != nil {
				log.Warn().Err(err).Str("path", spooled.Path).Msg("Failed to remove spooled upload")
			}
		}()

		progress := blob.ProgressFunc(func(e blob.ProgressEvent) {
			log.Debug().
				Str("file", spooled.Name).
				Int64("sent", e.Sent).
				Int64("total", e.Total).
				Float64("speed", e.Speed).
				Bool("done", e.Done).
				Msg("Upload progress")
		})

		file, err := lib.Ingest(c.Request.Context(), spooled.Path, req, progress)
		if err != nil {
			if errors.Is(err, blob.ErrUploadFailed) {
				c.JSON(http.StatusBadGateway, gin.H{"error": "upload to storage channel failed"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save media file"})
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Message: "File uploaded",
			Data:    file,
		})
	}
}

func handleListFiles(lib LibraryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		if page < 1 {
			page = 1
		}
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
		if perPage < 1 {
			perPage = defaultPerPage
		}

		filter := &types.MediaFileFilter{
			Kind:   c.Query("kind"),
			Query:  c.Query("q"),
			Limit:  perPage,
			Offset: (page - 1) * perPage,
		}

		files, total, err := lib.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list media files"})
			return
		}

		c.JSON(http.StatusOK, types.PaginatedResponse{
			APIResponse: types.APIResponse{Success: true, Data: files},
			Pagination: &types.PaginationInfo{
				Page:       page,
				PerPage:    perPage,
				Total:      total,
				TotalPages: int((total + int64(perPage) - 1) / int64(perPage)),
			},
		})
	}
}

func handleGetFile(lib LibraryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, ok := lookupFile(c, lib)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, file)
	}
}

func handleDeleteFile(lib LibraryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
			return
		}

		if err := lib.Delete(c.Request.Context(), id); err != nil {
			if errors.Is(err, library.ErrFileNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete media file"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func handleFileInfo(lib LibraryService) gin.HandlerFunc {
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

		c.JSON(http.StatusOK, gin.H{
			"handle": library.HandleOf(file).String(),
			"info":   info,
		})
	}
}

// lookupFile loads the record named by the id parameter, writing the error
// response itself when it cannot.
func lookupFile(c *gin.Context, lib LibraryService) (*types.MediaFile, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return nil, false
	}

	file, err := lib.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, library.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get media file"})
		return nil, false
	}

	return file, true
}

func writeBlobError(c *gin.Context, file *types.MediaFile, err error) {
	if errors.Is(err, blob.ErrNotFound) {
		log.Warn().Str("id", file.ID.String()).Str("handle", library.HandleOf(file).String()).Msg("Blob lost in storage channel")
		c.JSON(http.StatusNotFound, gin.H{"error": "File lost in storage channel. Please re-upload."})
		return
	}
	log.Error().Err(err).Str("id", file.ID.String()).Msg("Blob lookup failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming error"})
}
