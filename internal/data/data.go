package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/nanami/internal/conf"
	"github.com/lk2023060901/nanami/internal/pkg/database"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/mq"
	"github.com/lk2023060901/nanami/internal/pkg/redis"
	"github.com/lk2023060901/nanami/internal/pkg/upstream"
	"github.com/lk2023060901/nanami/internal/pkg/workerpool"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	s3data "github.com/lk2023060901/nanami/internal/s3/data"
	"go.uber.org/zap"
)

const drainTimeout = 10 * time.Second

// Data holds the process wide resources. Redis and Publisher are nil when
// disabled in the configuration.
type Data struct {
	DB        *database.DB
	Redis     *redis.Client
	Registry  *upstream.Registry
	Pool      *workerpool.Pool
	Publisher *mq.Publisher

	Buckets *s3data.BucketRepo
	Objects *s3data.ObjectRepo
	Files   *s3data.UpstreamFileRepo
}

// NewData connects every configured resource and runs the schema migration
func NewData(ctx context.Context, config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	d := &Data{}
	cleanup := func() {
		log.Info("cleaning up data resources")

		if d.Pool != nil {
			if err := d.Pool.Shutdown(drainTimeout); err != nil {
				log.Warn("worker pool did not drain", zap.Error(err))
			}
		}
		if d.Publisher != nil {
			_ = d.Publisher.Close()
		}
		if d.Redis != nil {
			_ = d.Redis.Close()
		}
		if d.DB != nil {
			_ = d.DB.Close()
		}
	}

	if err := d.init(ctx, config, log); err != nil {
		cleanup()
		return nil, nil, err
	}
	return d, cleanup, nil
}

func (d *Data) init(ctx context.Context, config *conf.Config, log *logger.Logger) error {
	var err error

	d.DB, err = database.New(&config.Database, log)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	if err := d.DB.Migrate(ctx, s3data.Migration()); err != nil {
		return err
	}

	if config.Redis.Enabled {
		d.Redis, err = redis.New(&config.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	} else {
		log.Info("redis disabled, bucket cache and rate limiting are off")
	}

	d.Registry, err = upstream.Build(ctx, &config.Backends, log)
	if err != nil {
		return fmt.Errorf("failed to init backends: %w", err)
	}

	d.Pool, err = workerpool.New(&config.Workers, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to init worker pool: %w", err)
	}

	if config.Events.Enabled {
		d.Publisher, err = mq.New(&config.Events, log)
		if err != nil {
			return fmt.Errorf("failed to init event publisher: %w", err)
		}
	}

	d.Buckets = s3data.NewBucketRepo(d.DB)
	d.Objects = s3data.NewObjectRepo(d.DB)
	d.Files = s3data.NewUpstreamFileRepo(d.DB)

	log.Info("data layer initialized",
		zap.Strings("backends", d.Registry.IDs()),
		zap.Bool("redis", d.Redis != nil),
		zap.Bool("events", d.Publisher != nil),
	)
	return nil
}

// BucketCache returns the redis backed bucket cache, or nil without redis
func (d *Data) BucketCache() biz.BucketCache {
	if d.Redis == nil {
		return nil
	}
	return s3data.NewBucketCache(d.Redis, s3data.DefaultBucketCacheTTL)
}

// Events returns the object event publisher, or nil when events are disabled
func (d *Data) Events() biz.EventPublisher {
	if d.Publisher == nil {
		return nil
	}
	return s3data.NewEventPublisher(d.Publisher)
}
