package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MediaFile is an application record pointing at a blob in the bin channel
type MediaFile struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"index"`
	Artist      string    `json:"artist" gorm:"index"`
	Duration    int       `json:"duration"` // seconds
	FileName    string    `json:"file_name" gorm:"not null"`
	MIMEType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256" gorm:"index"`
	Kind        string    `json:"kind" gorm:"index;not null"` // audio, video, document
	Destination int64     `json:"destination" gorm:"not null"`
	MessageID   int       `json:"message_id" gorm:"not null"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the media file ID
func (m *MediaFile) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// MediaFileFilter for listing media files
type MediaFileFilter struct {
	Kind   string `json:"kind"`
	Query  string `json:"query"` // matches title or artist
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// AuthToken represents a JWT token
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Subject   string    `json:"subject"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	APIResponse
	Pagination *PaginationInfo `json:"pagination,omitempty"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}
