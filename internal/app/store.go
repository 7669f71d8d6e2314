package app

import (
	"fmt"

	"github.com/vovakirdan/wirechat-p2p/internal/config"
	"github.com/vovakirdan/wirechat-p2p/internal/store"
	"github.com/vovakirdan/wirechat-p2p/internal/store/badger"
	"github.com/vovakirdan/wirechat-p2p/internal/store/sqlite"
)

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		st, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return st, nil
	case config.DriverBadger:
		st, err := badger.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("init badger store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
