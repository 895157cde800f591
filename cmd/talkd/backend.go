package main

import (
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"talk.mini/talk/internal/config"
	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/store/pebblestore"
	"talk.mini/talk/internal/store/sqlite"
)

// openedBackend pairs a backend with its optional shutdown backup.
type openedBackend struct {
	ledger.Backend
	backup func(maxBackups int) (string, error)
}

func openBackend(cfg *config.Config) (*openedBackend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("memory backend: state is lost on exit, Tendermint must replay from height zero")
		return &openedBackend{Backend: ledger.NewMemoryBackend()}, nil
	case config.BackendSQLite:
		s, err := sqlite.NewStore(filepath.Join(cfg.DataDir, "ledger.db"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return &openedBackend{Backend: s, backup: s.Backup}, nil
	case config.BackendPebble:
		s, err := pebblestore.Open(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return nil, fmt.Errorf("open pebble backend: %w", err)
		}
		return &openedBackend{Backend: s}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func closeBackend(b *openedBackend, cfg *config.Config) {
	if b.backup != nil {
		if _, err := b.backup(cfg.MaxBackups); err != nil {
			log.WithError(err).Warn("shutdown backup failed")
		}
	}
	if err := b.Close(); err != nil {
		log.WithError(err).Warn("close backend")
	}
}
