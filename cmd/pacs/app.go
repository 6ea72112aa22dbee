package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/LadislavGaza/neurai-api/internal/cache"
	"github.com/LadislavGaza/neurai-api/internal/config"
	"github.com/LadislavGaza/neurai-api/internal/metrics"
	"github.com/LadislavGaza/neurai-api/internal/pacs"
	"github.com/LadislavGaza/neurai-api/internal/services"
)

// app holds everything a command needs for one run.
type app struct {
	cfg      *config.Config
	service  *services.PACSService
	cache    cache.Cache
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config, opts ...pacs.Option) (*app, error) {
	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)

	var c cache.Cache
	if cfg.Cache.Enabled {
		switch cfg.Cache.Type {
		case config.CacheTypeRedis:
			rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
				Addr:     cfg.Redis.Addr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				return nil, err
			}
			c = rc
			log.Debug().Str("addr", cfg.Redis.Addr()).Msg("Redis cache initialized")
		default:
			c = cache.NewMemoryCache(cache.DefaultCleanupInterval)
			log.Debug().Msg("Memory cache initialized")
		}
	}

	client := pacs.NewClient(pacs.Config{
		Host:           cfg.PACS.Host,
		Port:           cfg.PACS.Port,
		CalledAETitle:  cfg.PACS.AETitle,
		CallingAETitle: cfg.PACS.CallingAETitle,
		ConnectTimeout: cfg.PACS.ConnectTimeout,
		DIMSETimeout:   cfg.PACS.DIMSETimeout,
		MaxPDULength:   cfg.PACS.MaxPDULength,
	}, append([]pacs.Option{pacs.WithMetrics(collectors)}, opts...)...)

	return &app{
		cfg:      cfg,
		service:  services.NewPACSService(client, c, cfg.Cache.TTL),
		cache:    c,
		registry: registry,
	}, nil
}

// close exports metrics when configured and releases the cache.
func (a *app) close() error {
	var firstErr error
	if a.cfg.Metrics.File != "" {
		if err := metrics.WriteTextfile(a.registry, a.cfg.Metrics.File); err != nil {
			firstErr = fmt.Errorf("failed to write metrics: %w", err)
		} else {
			log.Debug().Str("path", a.cfg.Metrics.File).Msg("Metrics written")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
