package main

import (
	"fmt"
	"io"

	"github.com/your-org/facegroups/internal/clustering"
	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/runlock"
	"github.com/your-org/facegroups/internal/storage"
	"github.com/your-org/facegroups/internal/thumbnail"
	"github.com/your-org/facegroups/internal/vision"
)

// deps are the connections a clustering command needs.
type deps struct {
	db      *storage.PostgresStore
	minio   *storage.MinIOStore
	locker  runlock.Locker
	engine  *clustering.Engine
	closers []io.Closer
}

func openDeps(cfg *config.Config) (*deps, error) {
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	d := &deps{db: db}

	d.minio, err = storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("connect to minio: %w", err)
	}

	d.locker, err = runlock.New(cfg.Redis)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if rl, ok := d.locker.(*runlock.RedisLocker); ok {
		d.closers = append(d.closers, rl)
	}

	extractor, closer, err := vision.Load(cfg.Vision)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("load face extractor: %w", err)
	}
	d.closers = append(d.closers, closer)

	thumbs := thumbnail.NewCache(d.minio, extractor, cfg.Thumbnails)
	d.engine = clustering.NewEngine(db, d.minio, extractor, thumbs, cfg.Clustering)
	return d, nil
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i].Close()
	}
	d.db.Close()
}
