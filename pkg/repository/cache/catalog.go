// Package cache keeps the shared salon catalog (stores, card types) in redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

const (
	StoresKey        = "salon:catalog:stores"
	CardTemplatesKey = "salon:catalog:card_types"

	DefaultTTL = 5 * time.Minute
)

type Config struct {
	Addr       string        `yaml:"addr" validate:"required,hostname_port"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db" validate:"gte=0"`
	CatalogTTL time.Duration `yaml:"catalog_ttl"`
}

// NewClient connects to redis and checks the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.New("connect to redis").Arg("addr", cfg.Addr).Wrap(err)
	}
	return rdb, nil
}

// Catalog is shared by all chats. Redis failures degrade to a backend call.
type Catalog struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	group  singleflight.Group
	logger zerolog.Logger
}

func NewCatalog(rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "catalog_cache").Logger(),
	}
}

// Wrap returns a fetcher that answers the store list (without coordinates)
// and card types from the cache. Everything else goes straight to f.
func (c *Catalog) Wrap(f model.DataFetcher) model.DataFetcher {
	return &cachedFetcher{DataFetcher: f, c: c}
}

// Invalidate drops every cached catalog entry.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, StoresKey, CardTemplatesKey).Err(); err != nil {
		return errs.New("invalidate catalog cache").Wrap(err)
	}
	return nil
}

type cachedFetcher struct {
	model.DataFetcher
	c *Catalog
}

func (f *cachedFetcher) ListStores(ctx context.Context, at *model.Coordinates) ([]model.Store, error) {
	if at != nil {
		return f.DataFetcher.ListStores(ctx, at)
	}
	return load(ctx, f.c, StoresKey, func(ctx context.Context) ([]model.Store, error) {
		return f.DataFetcher.ListStores(ctx, nil)
	})
}

func (f *cachedFetcher) CardTemplates(ctx context.Context) ([]model.CardTemplate, error) {
	return load(ctx, f.c, CardTemplatesKey, f.DataFetcher.CardTemplates)
}

// load reads key from redis or fills it from fetch. Concurrent misses share
// one backend call.
func load[T any](ctx context.Context, c *Catalog, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	log := c.logger.With().Str("key", key).Logger()

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out []T
		jerr := json.Unmarshal(raw, &out)
		if jerr == nil {
			log.Debug().Msg("cache hit")
			return out, nil
		}
		log.Warn().Err(jerr).Msg("corrupt cache entry")
	case errors.Is(err, redis.Nil):
		log.Debug().Msg("cache miss")
	default:
		log.Warn().Err(err).Msg("cache read failed")
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		items, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return nil, errs.New("encode catalog").Arg("key", key).Wrap(err)
		}
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("cache write failed")
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}
