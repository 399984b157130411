package clustering

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/observability"
	"github.com/your-org/facegroups/internal/vision"
)

// Store is the persistence the engine needs. storage.PostgresStore
// satisfies it.
type Store interface {
	ResetClusters(ctx context.Context) error
	CountClusters(ctx context.Context) (int, error)
	ListActiveImages(ctx context.Context) ([]models.Image, error)
	GetImage(ctx context.Context, id int64) (*models.Image, error)
	ClustersForOwner(ctx context.Context, owner uuid.UUID) ([]models.Cluster, error)
	FirstMatchedImage(ctx context.Context, clusterID int64, owner uuid.UUID) (int64, error)
	FirstEmbedding(ctx context.Context, imageID int64) (*models.Embedding, error)
	ListUnclustered(ctx context.Context, owner uuid.UUID) ([]models.Embedding, error)
	Assign(ctx context.Context, a models.Assignment) (int64, error)
}

type BlobReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Thumbnailer caches a face thumbnail for an image. Errors are reported,
// never fatal.
type Thumbnailer interface {
	Ensure(ctx context.Context, img models.Image) error
}

// Engine assigns faces to clusters. It performs no locking: callers must
// ensure at most one run per owner, and at most one batch run overall.
type Engine struct {
	store       Store
	blobs       BlobReader
	extractor   vision.Extractor
	thumbs      Thumbnailer
	batch       Policy
	incremental Policy

	// OnProgress, when set, is called after each image (batch) or
	// embedding (incremental) has been handled.
	OnProgress func(done, total int)
}

// NewEngine wires the engine. thumbs may be nil to disable thumbnails.
func NewEngine(store Store, blobs BlobReader, extractor vision.Extractor, thumbs Thumbnailer, cfg config.ClusteringConfig) *Engine {
	batch, incremental := policiesFromConfig(cfg)
	return &Engine{
		store:       store,
		blobs:       blobs,
		extractor:   extractor,
		thumbs:      thumbs,
		batch:       batch,
		incremental: incremental,
	}
}

func (e *Engine) BatchPolicy() Policy       { return e.batch }
func (e *Engine) IncrementalPolicy() Policy { return e.incremental }

// BatchReport summarises a rebuild. Skipped counts images whose faces could
// not be extracted.
type BatchReport struct {
	Images   int           `json:"images"`
	Skipped  int           `json:"skipped"`
	Faces    int           `json:"faces"`
	Clusters int           `json:"clusters"`
	Duration time.Duration `json:"duration"`
}

// IncrementalReport summarises one owner run.
type IncrementalReport struct {
	Embeddings        int           `json:"embeddings"`
	Matched           int           `json:"matched"`
	NewClusters       int           `json:"new_clusters"`
	ThumbnailFailures int           `json:"thumbnail_failures"`
	Duration          time.Duration `json:"duration"`
}

// candidate is one face waiting for a cluster.
type candidate struct {
	imageID     int64
	embeddingID int64
	vector      []float32
	box         *models.Box
}

// place assigns c under the assigner's policy and commits the decision.
func (e *Engine) place(ctx context.Context, a *assigner, c candidate) (clusterID int64, created bool, err error) {
	existing, ok := a.match(c.vector)
	clusterID, err = e.store.Assign(ctx, models.Assignment{
		ClusterID:   existing,
		ImageID:     c.imageID,
		EmbeddingID: c.embeddingID,
		Box:         c.box,
	})
	if err != nil {
		return 0, false, storeErr("assign", err)
	}
	a.observe(clusterID, c.vector)
	return clusterID, !ok, nil
}

// RunBatch wipes all clusters and rebuilds them by re-extracting faces from
// every non-deleted image of every owner, in image id order. Cluster names
// do not survive a rebuild.
func (e *Engine) RunBatch(ctx context.Context) (*BatchReport, error) {
	const mode = "batch"
	start := time.Now()
	p := e.batch

	report, err := e.runBatch(ctx, p)
	if report != nil {
		report.Duration = time.Since(start)
	}
	finish(mode, start, err)
	return report, err
}

func (e *Engine) runBatch(ctx context.Context, p Policy) (*BatchReport, error) {
	if p.Reset {
		if err := e.store.ResetClusters(ctx); err != nil {
			return nil, storeErr("reset clusters", err)
		}
	}

	images, err := e.store.ListActiveImages(ctx)
	if err != nil {
		return nil, storeErr("list images", err)
	}

	slog.Info("batch clustering started", "images", len(images), "tolerance", p.Tolerance)

	a := newAssigner(p)
	report := &BatchReport{Images: len(images)}

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		faces, err := e.extract(ctx, img)
		if err != nil {
			slog.Warn("skipping image", "image_id", img.ID, "error", err)
			observability.ExtractionFailures.WithLabelValues("batch").Inc()
			report.Skipped++
			e.progress(i+1, len(images))
			continue
		}

		for _, f := range faces {
			box := f.Box
			_, created, err := e.place(ctx, a, candidate{imageID: img.ID, vector: f.Vector, box: &box})
			if err != nil {
				return report, err
			}
			report.Faces++
			observability.MatchesRecorded.WithLabelValues("batch").Inc()
			if created {
				observability.ClustersCreated.WithLabelValues("batch").Inc()
			}
		}
		if p.Thumbnails && len(faces) > 0 {
			e.thumbnail(ctx, img)
		}
		e.progress(i+1, len(images))
	}

	report.Clusters, err = e.store.CountClusters(ctx)
	if err != nil {
		return report, storeErr("count clusters", err)
	}

	slog.Info("batch clustering finished",
		"images", report.Images,
		"skipped", report.Skipped,
		"faces", report.Faces,
		"clusters", report.Clusters,
	)
	return report, nil
}

// RunIncremental assigns the owner's unclustered embeddings. Each visible
// cluster is represented by the first embedding of the lowest-id owner
// image matched to it; new clusters are represented by the embedding that
// created them.
func (e *Engine) RunIncremental(ctx context.Context, owner uuid.UUID) (*IncrementalReport, error) {
	const mode = "incremental"
	start := time.Now()

	report, err := e.runIncremental(ctx, e.incremental, owner)
	if report != nil {
		report.Duration = time.Since(start)
	}
	finish(mode, start, err)
	return report, err
}

func (e *Engine) runIncremental(ctx context.Context, p Policy, owner uuid.UUID) (*IncrementalReport, error) {
	a := newAssigner(p)
	if err := e.seedRepresentatives(ctx, a, owner); err != nil {
		return nil, err
	}

	pending, err := e.store.ListUnclustered(ctx, owner)
	if err != nil {
		return nil, storeErr("list unclustered", err)
	}

	log := slog.With("owner_id", owner)
	log.Info("incremental clustering started",
		"clusters", a.size(),
		"pending", len(pending),
		"tolerance", p.Tolerance,
	)

	report := &IncrementalReport{}
	for i, emb := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		_, created, err := e.place(ctx, a, candidate{
			imageID:     emb.ImageID,
			embeddingID: emb.ID,
			vector:      emb.Vector,
		})
		if err != nil {
			return report, err
		}
		report.Embeddings++
		observability.MatchesRecorded.WithLabelValues("incremental").Inc()
		if created {
			report.NewClusters++
			observability.ClustersCreated.WithLabelValues("incremental").Inc()
		} else {
			report.Matched++
		}

		if p.Thumbnails && !e.thumbnailFor(ctx, emb.ImageID) {
			report.ThumbnailFailures++
		}
		e.progress(i+1, len(pending))
	}

	log.Info("incremental clustering finished",
		"embeddings", report.Embeddings,
		"matched", report.Matched,
		"new_clusters", report.NewClusters,
		"thumbnail_failures", report.ThumbnailFailures,
	)
	return report, nil
}

func (e *Engine) seedRepresentatives(ctx context.Context, a *assigner, owner uuid.UUID) error {
	clusters, err := e.store.ClustersForOwner(ctx, owner)
	if err != nil {
		return storeErr("list clusters", err)
	}

	for _, c := range clusters {
		imageID, err := e.store.FirstMatchedImage(ctx, c.ID, owner)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return storeErr("first matched image", err)
		}

		emb, err := e.store.FirstEmbedding(ctx, imageID)
		if errors.Is(err, models.ErrNotFound) {
			// matched by a batch run but never indexed
			slog.Debug("cluster has no representative", "cluster_id", c.ID, "image_id", imageID)
			continue
		}
		if err != nil {
			return storeErr("first embedding", err)
		}
		a.seed(c.ID, emb.Vector)
	}
	return nil
}

func (e *Engine) extract(ctx context.Context, img models.Image) ([]vision.Face, error) {
	data, err := e.blobs.GetObject(ctx, img.ObjectKey)
	if err != nil {
		return nil, &ExtractionError{ImageID: img.ID, Err: err}
	}
	faces, err := e.extractor.Extract(ctx, data)
	if err != nil {
		return nil, &ExtractionError{ImageID: img.ID, Err: err}
	}
	return faces, nil
}

// thumbnailFor looks up the image and ensures its thumbnail. It reports
// whether a thumbnail is now cached.
func (e *Engine) thumbnailFor(ctx context.Context, imageID int64) bool {
	if e.thumbs == nil {
		return true
	}
	img, err := e.store.GetImage(ctx, imageID)
	if err != nil {
		slog.Warn("thumbnail skipped", "image_id", imageID, "error", err)
		observability.ThumbnailFailures.Inc()
		return false
	}
	return e.thumbnail(ctx, *img)
}

func (e *Engine) thumbnail(ctx context.Context, img models.Image) bool {
	if e.thumbs == nil {
		return true
	}
	if err := e.thumbs.Ensure(ctx, img); err != nil {
		slog.Warn("thumbnail failed", "image_id", img.ID, "error", err)
		observability.ThumbnailFailures.Inc()
		return false
	}
	return true
}

func (e *Engine) progress(done, total int) {
	if e.OnProgress != nil {
		e.OnProgress(done, total)
	}
}

func finish(mode string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		slog.Error("clustering run failed", "mode", mode, "error", err)
	}
	observability.ClusteringRuns.WithLabelValues(mode, status).Inc()
	observability.ClusteringDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
