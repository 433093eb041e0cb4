package store

import (
	"example.com/backstage/services/keygate/config"
	"example.com/backstage/services/keygate/internal/cache"
	"example.com/backstage/services/keygate/internal/database"

	"github.com/pkg/errors"
)

// Open builds the backend selected by storage.driver
func Open(cfg config.Config) (Backend, error) {
	switch cfg.Storage.Driver {
	case "file":
		return NewFileBackend(cfg.Storage.Dir)
	case "redis":
		redisCache, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisBackend(redisCache), nil
	case "sqlite", "postgres":
		db, err := database.Connect(cfg.Storage)
		if err != nil {
			return nil, err
		}
		return NewSQLBackend(db)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
