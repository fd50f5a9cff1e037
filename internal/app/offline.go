package app

import (
	"lifejourney/internal/config"
	"lifejourney/internal/storage"
	"lifejourney/internal/sweep"
	logx "lifejourney/pkg/logx"
)

// OpenStore opens the store configured in cfg. One-shot commands use it
// instead of building the whole app.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}

// NewSweeper builds the overdue sweep exactly as the scheduled job does.
func NewSweeper(cfg *config.Config, store storage.Store, log logx.Logger) (*sweep.Sweeper, error) {
	sc, _, err := mapSweep(cfg)
	if err != nil {
		return nil, err
	}
	return sweep.New(sc, store, sweep.WithLogger(log))
}
