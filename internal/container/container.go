// Package container wires the quota services with samber/do.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaevor/go-nanoid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/driftquota/internal/config"
	"github.com/serroba/driftquota/internal/events"
	"github.com/serroba/driftquota/internal/metrics"
	"github.com/serroba/driftquota/internal/quota"
	"github.com/serroba/driftquota/internal/store"
	"go.uber.org/zap"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Options struct {
	Backend       string `default:"redis"          help:"Counter store: redis, postgres or memory"     short:"b"`
	RedisAddr     string `default:"localhost:6379" help:"Redis server address"                         short:"r"`
	DatabaseURL   string `default:""               help:"PostgreSQL URL for the postgres backend"      short:"d"`
	PolicyFile    string `default:"policy.yaml"    help:"YAML file with per-action quotas"             short:"f"`
	HashAlgorithm string `default:""               help:"Override the key hash algorithm (md5, xxh64)"`
	MaxAttempts   int    `default:"8"              help:"Attempts per operation under write contention"`
	LogFormat     string `default:"console"        help:"Log format: console or json"`
	Events        bool   `default:"true"           help:"Publish quota decisions to a Redis stream"`
	OnlyRejected  bool   `default:"false"          help:"Publish rejected decisions only"`
	ConsumerGroup string `default:"quota-auditor"  help:"Redis stream consumer group for the auditor"`
	SweepSchedule string `default:"@every 1m"      help:"Cron schedule purging expired postgres rows"`
	Instance      string `default:""               help:"Instance ID stamped on events (random if empty)"`
}

// LoggerPackage provides *zap.Logger.
func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.LogFormat == "json" {
			return zap.NewProduction()
		}

		return zap.NewDevelopment()
	})
}

// RedisPackage provides *redis.Client.
func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*redis.Client, error) {
		opts := do.MustInvoke[*Options](i)

		return redis.NewClient(&redis.Options{Addr: opts.RedisAddr}), nil
	})
}

// PostgresPackage provides *pgxpool.Pool.
func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*pgxpool.Pool, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend needs a database URL")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return pgxpool.New(ctx, opts.DatabaseURL)
	})
}

// PolicyPackage provides the policy and key layout loaded from the policy file.
func PolicyPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*config.Loaded, error) {
		opts := do.MustInvoke[*Options](i)

		loaded, err := config.LoadPolicy(opts.PolicyFile)
		if err != nil {
			return nil, err
		}

		if opts.HashAlgorithm != "" {
			algorithm, err := quota.ParseHashAlgorithm(opts.HashAlgorithm)
			if err != nil {
				return nil, err
			}

			loaded.Keys.Algorithm = algorithm
		}

		return loaded, nil
	})
}

// StorePackage provides the quota.Store selected by Options.Backend. The
// postgres backend also gets a running *store.ExpiryJanitor.
func StorePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*store.ExpiryJanitor, error) {
		opts := do.MustInvoke[*Options](i)
		pg := store.NewQuotaPostgresStore(do.MustInvoke[*pgxpool.Pool](i))

		janitor, err := store.NewExpiryJanitor(pg, opts.SweepSchedule, do.MustInvoke[*zap.Logger](i))
		if err != nil {
			return nil, err
		}

		janitor.Start()

		return janitor, nil
	})

	do.Provide(i, func(i *do.Injector) (quota.Store, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.Backend {
		case BackendRedis:
			return store.NewQuotaRedisStore(do.MustInvoke[*redis.Client](i)), nil
		case BackendPostgres:
			pg := store.NewQuotaPostgresStore(do.MustInvoke[*pgxpool.Pool](i))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("create quota schema: %w", err)
			}

			_ = do.MustInvoke[*store.ExpiryJanitor](i)

			return pg, nil
		case BackendMemory:
			return store.NewQuotaMemoryStore(nil), nil
		default:
			return nil, fmt.Errorf("unknown backend %q", opts.Backend)
		}
	})
}

// MetricsPackage provides a Prometheus registry and the decision recorder.
func MetricsPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*prometheus.Registry, error) {
		return prometheus.NewRegistry(), nil
	})

	do.Provide(i, func(i *do.Injector) (*metrics.Recorder, error) {
		return metrics.NewRecorder(do.MustInvoke[*prometheus.Registry](i))
	})
}

// InstancePackage provides the instance ID stamped on published events.
func InstancePackage(i *do.Injector) {
	do.ProvideNamed(i, "instance", func(i *do.Injector) (string, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.Instance != "" {
			return opts.Instance, nil
		}

		gen, err := nanoid.Standard(12)
		if err != nil {
			return "", err
		}

		return gen(), nil
	})
}

// PublisherPackage provides the Redis stream publisher and the decision
// publisher observing the tracker.
func PublisherPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (message.Publisher, error) {
		return redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     do.MustInvoke[*redis.Client](i),
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, events.NewZapLogger(do.MustInvoke[*zap.Logger](i)))
	})

	do.Provide(i, func(i *do.Injector) (*events.DecisionPublisher, error) {
		opts := do.MustInvoke[*Options](i)

		var pubOpts []events.PublisherOption
		if opts.OnlyRejected {
			pubOpts = append(pubOpts, events.OnlyRejected())
		}

		return events.NewDecisionPublisher(
			do.MustInvoke[message.Publisher](i),
			do.MustInvokeNamed[string](i, "instance"),
			do.MustInvoke[*zap.Logger](i),
			pubOpts...,
		), nil
	})
}

// TrackerPackage provides *quota.Tracker built from the policy, store and observers.
func TrackerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*quota.Tracker, error) {
		opts := do.MustInvoke[*Options](i)
		loaded := do.MustInvoke[*config.Loaded](i)

		st, err := do.Invoke[quota.Store](i)
		if err != nil {
			return nil, err
		}

		observers := quota.Observers{do.MustInvoke[*metrics.Recorder](i)}
		if opts.Events {
			observers = append(observers, do.MustInvoke[*events.DecisionPublisher](i))
		}

		return quota.NewTracker(st,
			quota.WithPolicy(loaded.Policy),
			quota.WithKeyDeriver(loaded.Keys),
			quota.WithLogger(do.MustInvoke[*zap.Logger](i)),
			quota.WithObserver(observers),
			quota.WithRetry(uint(max(opts.MaxAttempts, 1)), quota.DefaultRetryInterval),
		), nil
	})
}

// ConsumerGroupPackage provides the auditor consuming the decision stream.
func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (message.Subscriber, error) {
		opts := do.MustInvoke[*Options](i)

		return redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        do.MustInvoke[*redis.Client](i),
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: opts.ConsumerGroup,
		}, events.NewZapLogger(do.MustInvoke[*zap.Logger](i)))
	})

	do.Provide(i, func(i *do.Injector) (*events.Auditor, error) {
		return events.NewAuditor(do.MustInvoke[*zap.Logger](i)), nil
	})

	do.Provide(i, func(i *do.Injector) (*events.ConsumerGroup, error) {
		sub := do.MustInvoke[message.Subscriber](i)
		logger := do.MustInvoke[*zap.Logger](i)
		auditor := do.MustInvoke[*events.Auditor](i)

		group := events.NewConsumerGroup(sub, logger)
		group.Add(events.NewConsumer(sub, events.TopicDecisions, auditor.Handle, logger))

		return group, nil
	})
}

