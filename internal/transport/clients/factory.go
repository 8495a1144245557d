// Package clients builds transport clients from configuration.
package clients

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/internal/transport"
	"github.com/lgulliver/mediabin/internal/transport/memory"
	"github.com/lgulliver/mediabin/internal/transport/telegram"
	"github.com/lgulliver/mediabin/pkg/config"
)

// Factory creates one transport client per pool session
type Factory struct {
	config *config.TransportConfig
	memory *memory.Server
}

// NewFactory creates a new client factory
func NewFactory(cfg *config.TransportConfig) *Factory {
	return &Factory{config: cfg}
}

// CreateClient creates the client for session id based on the configured type
func (f *Factory) CreateClient(id int) (transport.Client, error) {
	switch f.config.Type {
	case "telegram":
		if err := os.MkdirAll(f.config.SessionDir, 0700); err != nil {
			log.Error().Err(err).Str("dir", f.config.SessionDir).Msg("failed to create session directory")
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		name := fmt.Sprintf("worker_%d", id)
		return telegram.NewClient(telegram.Options{
			Name:        name,
			AppID:       f.config.AppID,
			AppHash:     f.config.AppHash,
			BotToken:    f.config.BotToken,
			SessionPath: filepath.Join(f.config.SessionDir, name+".json"),
		}), nil
	case "memory":
		return f.MemoryServer().NewClient(fmt.Sprintf("worker_%d", id)), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", f.config.Type)
	}
}

// MemoryServer returns the in-process server shared by memory clients,
// creating it with the configured channel on first use.
func (f *Factory) MemoryServer() *memory.Server {
	if f.memory == nil {
		f.memory = memory.NewServer()
		f.memory.CreateChannel(f.config.Channel)
		log.Warn().Int64("channel", f.config.Channel).Msg("using in-memory transport, uploads are not persisted")
	}
	return f.memory
}
