package repository

import (
	"fmt"

	"github.com/epam/modular-api/internal/config"
)

// Open picks the backend for the configured installation mode. Hosted
// installations share a PostgreSQL database, self-hosted ones keep a local
// SQLite file. Both speak the same document-per-row schema.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Mode {
	case config.ModeHosted:
		return NewPostgresStore(cfg.DatabaseURI)
	case config.ModeSelfHosted:
		return NewSQLiteStore(cfg.DatabasePath)
	default:
		return nil, fmt.Errorf("unknown installation mode %q", cfg.Mode)
	}
}
