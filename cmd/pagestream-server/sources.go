package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/pagestream/internal/catalog"
	"github.com/Sternrassler/pagestream/pkg/source"
	"github.com/Sternrassler/pagestream/pkg/source/boltmirror"
	"github.com/Sternrassler/pagestream/pkg/source/memsource"
	"github.com/Sternrassler/pagestream/pkg/source/mirror"
	"github.com/Sternrassler/pagestream/pkg/source/remote"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// tiers holds the sources of the product stream and what must be closed
// with them.
type tiers struct {
	local   source.PageSource[catalog.Product]
	remote  source.PageSource[catalog.Product]
	closers []func() error
	ready   func(ctx context.Context) error
}

func (t *tiers) onClose(fn func() error) {
	t.closers = append(t.closers, fn)
}

func buildTiers(ctx context.Context, cfg Config, logger zerolog.Logger) (*tiers, error) {
	t := &tiers{ready: func(context.Context) error { return nil }}

	mirrorCfg := mirror.Config{Namespace: cfg.Mirror.Namespace, TTL: cfg.Mirror.TTL}

	switch cfg.Mirror.Backend {
	case MirrorRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.Mirror.RedisAddr,
			DB:   cfg.Mirror.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Mirror.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.Mirror.RedisAddr).Msg("Connected to Redis")

		t.local = mirror.NewRedis[catalog.Product](redisClient, mirrorCfg)
		t.ready = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		t.onClose(redisClient.Close)

	case MirrorBolt:
		m, err := boltmirror.Open[catalog.Product](cfg.Mirror.BoltPath, mirrorCfg)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.Mirror.BoltPath).Msg("Opened bolt mirror")

		t.local = m
		t.onClose(m.Close)
	}

	if cfg.Remote.URL == "" {
		demo := memsource.New(catalog.Sample(cfg.Demo.Products), cfg.Demo.Start)
		demo.SetDelay(cfg.Demo.Delay)
		t.remote = demo
		logger.Info().Int("products", cfg.Demo.Products).Msg("Serving in-memory demo catalog")
		return t, nil
	}

	remoteCfg := remote.DefaultConfig(cfg.Remote.URL, cfg.Remote.UserAgent)
	remoteCfg.Timeout = cfg.Remote.Timeout
	remoteCfg.BudgetCritical = cfg.Remote.BudgetCritical
	remoteCfg.BudgetWarning = cfg.Remote.BudgetWarning
	remoteCfg.Retry.Default.MaxAttempts = cfg.Remote.MaxAttempts
	for class, policy := range remoteCfg.Retry.PerClass {
		policy.MaxAttempts = cfg.Remote.MaxAttempts
		remoteCfg.Retry.PerClass[class] = policy
	}
	remoteCfg.Logger = &logger

	src, err := remote.New[catalog.Product](remoteCfg)
	if err != nil {
		t.close()
		return nil, err
	}
	t.remote = src
	logger.Info().Str("url", cfg.Remote.URL).Msg("Using remote catalog")

	return t, nil
}

// close runs every closer in reverse order and joins their errors.
func (t *tiers) close() error {
	var result *multierror.Error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	t.closers = nil
	return result.ErrorOrNil()
}
