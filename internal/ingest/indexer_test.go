package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/storage/mock"
	"github.com/your-org/facegroups/internal/vision"
)

type stubExtractor struct {
	faces []vision.Face
	err   error
	calls int
}

func (s *stubExtractor) Extract(ctx context.Context, data []byte) ([]vision.Face, error) {
	s.calls++
	return s.faces, s.err
}

type recordingPublisher struct {
	events []models.FaceEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, ev models.FaceEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func twoFaces() []vision.Face {
	return []vision.Face{
		{Box: models.Box{Top: 0, Left: 0, Bottom: 10, Right: 10}, Vector: []float32{1, 0}},
		{Box: models.Box{Top: 20, Left: 20, Bottom: 30, Right: 30}, Vector: []float32{0, 1}},
	}
}

func TestIndexerProcess(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	tests := []struct {
		name        string
		setup       func(store *mock.Store, blobs *mock.Blobs, ext *stubExtractor) models.IngestTask
		wantErr     bool
		wantStored  int
		wantEvents  int
		wantExtract int
	}{
		{
			name: "stores embeddings and publishes",
			setup: func(store *mock.Store, blobs *mock.Blobs, ext *stubExtractor) models.IngestTask {
				img := store.AddImage(owner, "uploads/a.jpg")
				_ = blobs.PutObject(ctx, img.ObjectKey, []byte("jpeg"), "image/jpeg")
				ext.faces = twoFaces()
				return models.IngestTask{ImageID: img.ID, OwnerID: owner, ObjectKey: img.ObjectKey}
			},
			wantStored:  2,
			wantEvents:  1,
			wantExtract: 1,
		},
		{
			name: "no faces still reports",
			setup: func(store *mock.Store, blobs *mock.Blobs, ext *stubExtractor) models.IngestTask {
				img := store.AddImage(owner, "uploads/empty.jpg")
				_ = blobs.PutObject(ctx, img.ObjectKey, []byte("jpeg"), "image/jpeg")
				return models.IngestTask{ImageID: img.ID, OwnerID: owner}
			},
			wantEvents:  1,
			wantExtract: 1,
		},
		{
			name: "already indexed is skipped",
			setup: func(store *mock.Store, blobs *mock.Blobs, ext *stubExtractor) models.IngestTask {
				img := store.AddImage(owner, "uploads/done.jpg")
				_, _ = store.PutEmbeddings(ctx, img.ID, [][]float32{{1, 1}})
				ext.faces = twoFaces()
				return models.IngestTask{ImageID: img.ID, OwnerID: owner}
			},
			wantStored: 1,
		},
		{
			name: "missing image is dropped",
			setup: func(store *mock.Store, blobs *mock.Blobs, ext *stubExtractor) models.IngestTask {
				return models.IngestTask{ImageID: 99, OwnerID: owner}
			},
		},
		{
			name: "missing blob is dropped",
			setup: func(store *mock.Store, blobs *mock.Blobs, ext *stubExtractor) models.IngestTask {
				img := store.AddImage(owner, "uploads/lost.jpg")
				return models.IngestTask{ImageID: img.ID, OwnerID: owner}
			},
		},
		{
			name: "extraction failure is dropped",
			setup: func(store *mock.Store, blobs *mock.Blobs, ext *stubExtractor) models.IngestTask {
				img := store.AddImage(owner, "uploads/bad.jpg")
				_ = blobs.PutObject(ctx, img.ObjectKey, []byte("garbage"), "image/jpeg")
				ext.err = errors.New("decode image: unknown format")
				return models.IngestTask{ImageID: img.ID, OwnerID: owner}
			},
			wantExtract: 1,
		},
		{
			name: "store failure is retried",
			setup: func(store *mock.Store, blobs *mock.Blobs, ext *stubExtractor) models.IngestTask {
				img := store.AddImage(owner, "uploads/retry.jpg")
				_ = blobs.PutObject(ctx, img.ObjectKey, []byte("jpeg"), "image/jpeg")
				ext.faces = twoFaces()
				store.PutEmbeddingError = errors.New("connection reset")
				return models.IngestTask{ImageID: img.ID, OwnerID: owner}
			},
			wantErr:     true,
			wantExtract: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewStore()
			blobs := mock.NewBlobs()
			ext := &stubExtractor{}
			pub := &recordingPublisher{}
			task := tt.setup(store, blobs, ext)

			err := NewIndexer(store, blobs, ext, pub).Process(ctx, task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Process() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ext.calls != tt.wantExtract {
				t.Errorf("extract calls = %d, want %d", ext.calls, tt.wantExtract)
			}
			if n, _ := store.CountEmbeddings(ctx, task.ImageID); n != tt.wantStored {
				t.Errorf("stored embeddings = %d, want %d", n, tt.wantStored)
			}
			if len(pub.events) != tt.wantEvents {
				t.Fatalf("events = %d, want %d", len(pub.events), tt.wantEvents)
			}
			for _, ev := range pub.events {
				if ev.Type != models.EventFacesIndexed || ev.OwnerID != owner || ev.ImageID != task.ImageID {
					t.Errorf("event = %+v", ev)
				}
			}
		})
	}
}

func TestIndexerStoresUnclustered(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()
	store := mock.NewStore()
	blobs := mock.NewBlobs()
	img := store.AddImage(owner, "uploads/a.jpg")
	_ = blobs.PutObject(ctx, img.ObjectKey, []byte("jpeg"), "image/jpeg")

	ix := NewIndexer(store, blobs, &stubExtractor{faces: twoFaces()}, nil)
	if err := ix.Process(ctx, models.IngestTask{ImageID: img.ID, OwnerID: owner}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	pending, err := store.ListUnclustered(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("unclustered = %d, want 2", len(pending))
	}
	if pending[0].Vector[0] != 1 || pending[1].Vector[1] != 1 {
		t.Errorf("embeddings out of detector order: %+v", pending)
	}
}

func TestIndexerPublishFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()
	store := mock.NewStore()
	blobs := mock.NewBlobs()
	img := store.AddImage(owner, "uploads/a.jpg")
	_ = blobs.PutObject(ctx, img.ObjectKey, []byte("jpeg"), "image/jpeg")

	pub := &recordingPublisher{err: errors.New("nats: timeout")}
	ix := NewIndexer(store, blobs, &stubExtractor{faces: twoFaces()}, pub)
	if err := ix.Process(ctx, models.IngestTask{ImageID: img.ID, OwnerID: owner}); err != nil {
		t.Fatalf("Process() error = %v, want nil", err)
	}
}
