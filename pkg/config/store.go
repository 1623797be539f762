package config

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/codec"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/memory"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/natskv"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/redis"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/sqlstore"
)

// Store is an opened checkpoint store. Close releases the connection it runs on.
type Store struct {
	checkpoint.Store
	close func() error
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}

	return s.close()
}

// OpenStore connects to the configured checkpoint backend.
func (c *Config) OpenStore(ctx context.Context) (*Store, error) {
	cfg := c.Checkpoint
	switch cfg.Backend {
	case BackendMemory, "":
		return &Store{Store: memory.New()}, nil
	case BackendRedis:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s := redis.New(client, redis.WithPrefix(cfg.Redis.Prefix))
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "unable to reach redis")
		}

		return &Store{Store: s, close: client.Close}, nil
	case BackendSQL:
		s, err := sqlstore.Open(cfg.SQL.DSN, sqlstore.WithTable(cfg.SQL.Table))
		if err != nil {
			return nil, err
		}
		if cfg.SQL.Migrate {
			if err = s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}

		return &Store{Store: s, close: s.Close}, nil
	case BackendNATS:
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to connect to %s", cfg.NATS.URL)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, errors.Wrap(err, "unable to create jetstream context")
		}
		s, err := natskv.Open(ctx, js, cfg.NATS.Bucket)
		if err != nil {
			nc.Close()
			return nil, err
		}

		return &Store{Store: s, close: func() error {
			nc.Close()
			return nil
		}}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown checkpoint backend %q", cfg.Backend)
	}
}

func (c *Config) codec() (codec.Codec, error) {
	if c.Checkpoint.Codec == "" {
		return codec.JSON, nil
	}
	cdc, err := codec.ByTag(c.Checkpoint.Codec)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown checkpoint codec %q", c.Checkpoint.Codec)
	}

	return cdc, nil
}
