// Package ingest turns queued uploads into stored face embeddings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/observability"
	"github.com/your-org/facegroups/internal/vision"
)

type Store interface {
	GetImage(ctx context.Context, id int64) (*models.Image, error)
	CountEmbeddings(ctx context.Context, imageID int64) (int, error)
	PutEmbeddings(ctx context.Context, imageID int64, vectors [][]float32) ([]models.Embedding, error)
}

type BlobReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, ev models.FaceEvent) error
}

// Indexer extracts faces from uploaded images and stores them as
// unclustered embeddings. Clustering happens later, per owner.
type Indexer struct {
	store     Store
	blobs     BlobReader
	extractor vision.Extractor
	events    Publisher
}

// NewIndexer wires an indexer. events may be nil.
func NewIndexer(store Store, blobs BlobReader, extractor vision.Extractor, events Publisher) *Indexer {
	return &Indexer{store: store, blobs: blobs, extractor: extractor, events: events}
}

// Process handles one ingest task. A non-nil error means the task should be
// redelivered; images that cannot be read or decoded are logged and dropped.
func (ix *Indexer) Process(ctx context.Context, task models.IngestTask) error {
	log := slog.With("image_id", task.ImageID, "owner_id", task.OwnerID)

	img, err := ix.store.GetImage(ctx, task.ImageID)
	if errors.Is(err, models.ErrNotFound) {
		log.Info("image gone before indexing")
		observability.ImagesIndexed.WithLabelValues("gone").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("get image %d: %w", task.ImageID, err)
	}

	n, err := ix.store.CountEmbeddings(ctx, img.ID)
	if err != nil {
		return fmt.Errorf("count embeddings for image %d: %w", img.ID, err)
	}
	if n > 0 {
		log.Debug("image already indexed", "faces", n)
		observability.ImagesIndexed.WithLabelValues("skipped").Inc()
		return nil
	}

	data, err := ix.blobs.GetObject(ctx, img.ObjectKey)
	if err != nil {
		log.Warn("fetch image failed", "key", img.ObjectKey, "error", err)
		observability.ExtractionFailures.WithLabelValues("ingest").Inc()
		observability.ImagesIndexed.WithLabelValues("failed").Inc()
		return nil
	}

	faces, err := ix.extractor.Extract(ctx, data)
	if err != nil {
		log.Warn("face extraction failed", "error", err)
		observability.ExtractionFailures.WithLabelValues("ingest").Inc()
		observability.ImagesIndexed.WithLabelValues("failed").Inc()
		return nil
	}

	vectors := make([][]float32, len(faces))
	for i, f := range faces {
		vectors[i] = f.Vector
	}
	if len(vectors) > 0 {
		if _, err := ix.store.PutEmbeddings(ctx, img.ID, vectors); err != nil {
			return fmt.Errorf("store embeddings for image %d: %w", img.ID, err)
		}
	}

	observability.ImagesIndexed.WithLabelValues("ok").Inc()
	observability.FacesDetected.Add(float64(len(faces)))
	log.Info("image indexed", "faces", len(faces))

	if ix.events != nil {
		ev := models.FaceEvent{
			Type:      models.EventFacesIndexed,
			OwnerID:   img.OwnerID,
			ImageID:   img.ID,
			FaceCount: len(faces),
			Timestamp: time.Now().UTC(),
		}
		if err := ix.events.PublishEvent(ctx, ev); err != nil {
			log.Warn("publish faces_indexed failed", "error", err)
		}
	}
	return nil
}
