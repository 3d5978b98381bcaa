package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/config"
	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/database/badgerdb"
	"github.com/kozaktomas/tether/internal/database/memory"
	"github.com/kozaktomas/tether/internal/database/postgres"
	"github.com/kozaktomas/tether/internal/embedding"
	"github.com/kozaktomas/tether/internal/facematch"
	"github.com/kozaktomas/tether/internal/imagestore"
	"github.com/kozaktomas/tether/internal/lock"
	"github.com/kozaktomas/tether/internal/reconcile"
)

// app holds the wired engine and everything that must be closed on exit.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	engine  *reconcile.Engine
	closers []func() error
}

// newApp loads the configuration and builds the engine with its backends.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := config.NewLogger(cfg.Logging, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	images, err := a.openImages(ctx)
	if err != nil {
		return err
	}
	locker, err := a.openLocker(ctx)
	if err != nil {
		return err
	}

	embedder := embedding.NewClient(a.cfg.Embedding.URL, embedding.Options{
		MaxImageSize: a.cfg.Embedding.MaxImageSize,
		Timeout:      a.cfg.Embedding.Timeout,
	})

	a.engine, err = reconcile.New(reconcile.Options{
		Store:    store,
		Embedder: embedder,
		Images:   images,
		Locker:   locker,
		Logger:   a.log,
		Params: facematch.Params{
			AcceptThreshold: a.cfg.Matching.AcceptThreshold,
			MaxDistance:     a.cfg.Matching.MaxDistance,
		},
		EmbeddingDim: a.cfg.Embedding.Dim,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (database.ReportStore, error) {
	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := postgres.Open(ctx, &a.cfg.Database, a.log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.log.Info("using PostgreSQL report store")
		return postgres.NewReportRepository(pool), nil

	case config.BackendBadger:
		store, err := badgerdb.Open(badgerdb.Options{Dir: a.cfg.Store.BadgerDir, Logger: a.log})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.log.WithField("dir", a.cfg.Store.BadgerDir).Info("using badger report store")
		return store, nil

	default:
		a.log.Warn("using in-memory report store, reports are lost on exit")
		return memory.New(), nil
	}
}

func (a *app) openImages(ctx context.Context) (imagestore.Store, error) {
	c := a.cfg.Images
	switch c.Backend {
	case config.ImagesS3:
		s, err := imagestore.NewS3FromOptions(ctx, imagestore.S3Options{
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 image store: %w", err)
		}
		return s, nil
	case config.ImagesMemory:
		return imagestore.NewMemory(), nil
	default:
		s, err := imagestore.NewLocal(c.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create image directory: %w", err)
		}
		return s, nil
	}
}

func (a *app) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Redis.URL == "" {
		return lock.NewLocal(), nil
	}
	locker, rdb, err := lock.Dial(ctx, a.cfg.Redis.URL, lock.RedisOptions{
		TTL:    a.cfg.Redis.LockTTL,
		Logger: a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	a.log.Info("using Redis pair lock")
	return locker, nil
}

// Close releases the backends in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
