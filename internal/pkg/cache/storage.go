package cache

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"

	"github.com/mayday-pac/pledgeservice/internal/pkg/config"
)

// NewFiberStorage returns a fiber.Storage on the cache server for middleware state such as
// rate limiter counters. It uses the database after CACHE_DB so keys never mix with
// aggregates. A nil storage means fiber's in-process default should be used.
func NewFiberStorage(cfg *config.Config) (storage fiber.Storage, err error) {
	if cfg.CacheDriver != config.DriverRedis {
		return nil, nil
	}
	// redis.New panics when the server cannot be reached
	defer func() {
		if r := recover(); r != nil {
			storage, err = nil, fmt.Errorf("redis storage at %s: %v", cfg.CacheAddr(), r)
		}
	}()

	s := redis.New(redis.Config{
		Host:     cfg.CacheHost,
		Port:     cfg.CachePort,
		Password: cfg.CachePassword,
		Database: cfg.CacheDB + 1,
		Reset:    false,
	})
	log.Infof("[Cache] Middleware storage on %s db %d", cfg.CacheAddr(), cfg.CacheDB+1)
	return s, nil
}
