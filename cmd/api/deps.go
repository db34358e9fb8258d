package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pawdirectory/media/internal/business"
	"github.com/pawdirectory/media/internal/config"
	"github.com/pawdirectory/media/internal/db"
	"github.com/pawdirectory/media/internal/metrics"
	"github.com/pawdirectory/media/internal/mongodb"
	"github.com/pawdirectory/media/internal/pet"
	"github.com/pawdirectory/media/internal/queue"
	"github.com/pawdirectory/media/internal/storage"
	"github.com/pawdirectory/media/internal/upload"
	"github.com/pawdirectory/media/internal/user"
)

// deps holds the connections shared by serve and reconcile.
type deps struct {
	Pool    *pgxpool.Pool
	Mongo   *mongo.Client
	Queue   queue.Queue
	Store   storage.Storage
	Metrics *metrics.Metrics
	Users   *user.Repository
	Service *upload.Service
}

// connect wires repository → service in dependency order. On error every
// connection opened so far is closed.
func connect(ctx context.Context, cfg *config.Config) (_ *deps, err error) {
	d := &deps{}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if d.Pool, err = db.Connect(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var mdb *mongo.Database
	if d.Mongo, mdb, err = mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase); err != nil {
		return nil, fmt.Errorf("mongodb connection failed: %w", err)
	}

	if d.Store, err = newStorage(ctx, cfg); err != nil {
		return nil, fmt.Errorf("object storage init failed: %w", err)
	}

	if d.Queue, err = newQueue(cfg); err != nil {
		return nil, fmt.Errorf("queue init failed: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.New(reg)

	d.Users = user.NewRepository(mdb)
	records := &upload.OwnerRecords{
		Pets:       pet.NewRepository(mdb),
		Businesses: business.NewRepository(mdb),
		Users:      d.Users,
	}
	d.Service = upload.NewService(
		d.Store,
		upload.NewRepository(d.Pool),
		records,
		d.Queue,
		d.Metrics,
		upload.Options{StorageTimeout: cfg.StorageTimeout},
	)
	return d, nil
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	urls := storage.URLBuilder{
		Base:    cfg.StoragePublicBase,
		Bucket:  cfg.StorageBucket,
		Project: cfg.StorageProject,
	}
	switch cfg.StorageDriver {
	case "memory":
		log.Warn().Msg("using in-memory object storage, files are lost on restart")
		return storage.NewMemoryStorage(urls), nil
	case "minio", "":
		store, err := storage.NewMinioStorage(ctx, storage.MinioOptions{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			UseSSL:    cfg.StorageUseSSL,
			URLs:      urls,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func newQueue(cfg *config.Config) (queue.Queue, error) {
	if cfg.RabbitMQURL == "" {
		log.Warn().Msg("RABBITMQ_URL not set, using in-process queue")
		return queue.NewMemory(256), nil
	}
	q, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.PersistQueue, cfg.QueuePrefetch)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Close releases every connection that was opened.
func (d *deps) Close() {
	if d.Queue != nil {
		if err := d.Queue.Close(); err != nil {
			log.Warn().Err(err).Msg("close queue")
		}
	}
	if d.Mongo != nil {
		if err := d.Mongo.Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("disconnect mongodb")
		}
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
