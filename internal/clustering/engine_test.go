package clustering

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/storage/mock"
	"github.com/your-org/facegroups/internal/vision"
)

// fakeExtractor returns canned faces keyed by the blob contents.
type fakeExtractor struct {
	faces map[string][]vision.Face
	fail  map[string]error
	calls int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{faces: map[string][]vision.Face{}, fail: map[string]error{}}
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte) ([]vision.Face, error) {
	f.calls++
	if err := f.fail[string(data)]; err != nil {
		return nil, err
	}
	return f.faces[string(data)], nil
}

type fakeThumbs struct {
	mu      sync.Mutex
	ensured []int64
	err     error
}

func (f *fakeThumbs) Ensure(ctx context.Context, img models.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, img.ID)
	return f.err
}

type fixture struct {
	store  *mock.Store
	blobs  *mock.Blobs
	ext    *fakeExtractor
	thumbs *fakeThumbs
	engine *Engine
}

func newFixture() *fixture {
	f := &fixture{
		store:  mock.NewStore(),
		blobs:  mock.NewBlobs(),
		ext:    newFakeExtractor(),
		thumbs: &fakeThumbs{},
	}
	f.engine = NewEngine(f.store, f.blobs, f.ext, f.thumbs, config.ClusteringConfig{})
	return f
}

// addPhoto stores an image whose blob extracts to the given face vectors.
func (f *fixture) addPhoto(t *testing.T, owner uuid.UUID, key string, vectors ...[]float32) models.Image {
	t.Helper()
	img := f.store.AddImage(owner, key)
	if err := f.blobs.PutObject(context.Background(), key, []byte(key), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	for i, v := range vectors {
		f.ext.faces[key] = append(f.ext.faces[key], vision.Face{
			Box:    models.Box{Top: 10 * i, Left: 10 * i, Bottom: 10*i + 50, Right: 10*i + 50},
			Vector: v,
		})
	}
	return img
}

// addIndexed stores an image with unclustered embeddings, as the ingest
// worker would.
func (f *fixture) addIndexed(t *testing.T, owner uuid.UUID, key string, vectors ...[]float32) (models.Image, []models.Embedding) {
	t.Helper()
	img := f.addPhoto(t, owner, key, vectors...)
	embs, err := f.store.PutEmbeddings(context.Background(), img.ID, vectors)
	if err != nil {
		t.Fatal(err)
	}
	return img, embs
}

func clusterOf(t *testing.T, s *mock.Store, imageID int64) int64 {
	t.Helper()
	ms, _ := s.ListMatches(context.Background(), imageID)
	if len(ms) != 1 {
		t.Fatalf("image %d has %d matches, want 1", imageID, len(ms))
	}
	return ms[0].ClusterID
}

// --- Batch ---

func TestRunBatch_GroupsSimilarFaces(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	i1 := f.addPhoto(t, owner, "i1", []float32{0, 0})
	i2 := f.addPhoto(t, owner, "i2", []float32{0.55, 0})
	i3 := f.addPhoto(t, owner, "i3", []float32{5, 5})

	report, err := f.engine.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}

	if report.Clusters != 2 || report.Faces != 3 || report.Images != 3 {
		t.Errorf("report = %+v, want 2 clusters, 3 faces, 3 images", report)
	}
	if clusterOf(t, f.store, i1.ID) != clusterOf(t, f.store, i2.ID) {
		t.Error("i1 and i2 are within 0.6 and should share a cluster")
	}
	if clusterOf(t, f.store, i3.ID) == clusterOf(t, f.store, i1.ID) {
		t.Error("i3 should be in its own cluster")
	}
}

func TestRunBatch_RecordsBoxes(t *testing.T) {
	f := newFixture()
	img := f.addPhoto(t, uuid.New(), "i1", []float32{0}, []float32{9})

	if _, err := f.engine.RunBatch(context.Background()); err != nil {
		t.Fatal(err)
	}

	ms, _ := f.store.ListMatches(context.Background(), img.ID)
	if len(ms) != 2 {
		t.Fatalf("matches = %d, want 2", len(ms))
	}
	for i, m := range ms {
		want := models.Box{Top: 10 * i, Left: 10 * i, Bottom: 10*i + 50, Right: 10*i + 50}
		if m.Box == nil || *m.Box != want {
			t.Errorf("match %d box = %v, want %+v", i, m.Box, want)
		}
	}
}

func TestRunBatch_AnyRepresentativeMatches(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.addPhoto(t, owner, "i1", []float32{0})
	f.addPhoto(t, owner, "i2", []float32{0.55})
	// 1.1 from i1, but 0.55 from i2 which joined the cluster.
	f.addPhoto(t, owner, "i3", []float32{1.1})

	report, err := f.engine.RunBatch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Clusters != 1 {
		t.Errorf("clusters = %d, want 1", report.Clusters)
	}
}

func TestRunBatch_FirstMatchWins(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	a := f.addPhoto(t, owner, "a", []float32{0})
	b := f.addPhoto(t, owner, "b", []float32{1})
	// 0.55 from a, 0.45 from b: a's cluster was created first.
	c := f.addPhoto(t, owner, "c", []float32{0.55})

	if _, err := f.engine.RunBatch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if clusterOf(t, f.store, c.ID) != clusterOf(t, f.store, a.ID) {
		t.Error("c should join the first matching cluster (a), not the closest (b)")
	}
	if clusterOf(t, f.store, b.ID) == clusterOf(t, f.store, a.ID) {
		t.Error("a and b are 1.0 apart and must not share a cluster")
	}
}

func TestRunBatch_ResetsNamesAndClusters(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.addPhoto(t, owner, "i1", []float32{0})

	if _, err := f.engine.RunBatch(context.Background()); err != nil {
		t.Fatal(err)
	}
	groups, _ := f.store.Groups(context.Background(), owner)
	if err := f.store.RenameCluster(context.Background(), groups[0].ClusterID, "Alice"); err != nil {
		t.Fatal(err)
	}
	stale := f.store.AddCluster("Stale")

	report, err := f.engine.RunBatch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Clusters != 1 {
		t.Errorf("clusters after rebuild = %d, want 1", report.Clusters)
	}
	if _, err := f.store.GetCluster(context.Background(), stale.ID); !errors.Is(err, models.ErrNotFound) {
		t.Error("rebuild should delete clusters that no image supports")
	}
	groups, _ = f.store.Groups(context.Background(), owner)
	if len(groups) != 1 || groups[0].Name != "Unknown" {
		t.Errorf("groups after rebuild = %+v, want one Unknown group", groups)
	}
}

func TestRunBatch_IsDeterministic(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	var imgs []models.Image
	for i, v := range [][]float32{{0}, {3}, {0.3}, {3.4}, {8}} {
		imgs = append(imgs, f.addPhoto(t, owner, string(rune('a'+i)), v))
	}

	partition := func() []int {
		if _, err := f.engine.RunBatch(context.Background()); err != nil {
			t.Fatal(err)
		}
		first := map[int64]int{}
		var out []int
		for i, img := range imgs {
			c := clusterOf(t, f.store, img.ID)
			if _, ok := first[c]; !ok {
				first[c] = i
			}
			out = append(out, first[c])
		}
		return out
	}

	p1, p2 := partition(), partition()
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("partitions differ: %v vs %v", p1, p2)
		}
	}
	if len(f.store.Matches()) != len(imgs) {
		t.Errorf("ledger has %d matches after two rebuilds, want %d", len(f.store.Matches()), len(imgs))
	}
}

func TestRunBatch_SkipsDeletedAndFailedImages(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.addPhoto(t, owner, "ok", []float32{0})
	gone := f.addPhoto(t, owner, "gone", []float32{0})
	f.addPhoto(t, owner, "broken", []float32{0})
	f.addPhoto(t, owner, "missing", []float32{0})
	f.ext.fail["broken"] = errors.New("corrupt jpeg")
	f.blobs.FailKeys = map[string]bool{"missing": true}
	if err := f.store.SetImageDeleted(context.Background(), owner, gone.ID, true); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if report.Images != 3 || report.Skipped != 2 || report.Faces != 1 {
		t.Errorf("report = %+v, want 3 images, 2 skipped, 1 face", report)
	}
	if ms, _ := f.store.ListMatches(context.Background(), gone.ID); len(ms) != 0 {
		t.Error("deleted image should not be clustered")
	}
}

func TestRunBatch_NoFacesNoMatches(t *testing.T) {
	f := newFixture()
	f.addPhoto(t, uuid.New(), "landscape")

	report, err := f.engine.RunBatch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Clusters != 0 || len(f.store.Matches()) != 0 {
		t.Errorf("report = %+v, matches = %d; want nothing", report, len(f.store.Matches()))
	}
}

func TestRunBatch_StoreFailureAborts(t *testing.T) {
	f := newFixture()
	f.addPhoto(t, uuid.New(), "i1", []float32{0})
	f.store.AssignError = errors.New("connection reset")

	_, err := f.engine.RunBatch(context.Background())
	if !errors.Is(err, ErrStoreFailure) {
		t.Errorf("RunBatch() error = %v, want ErrStoreFailure", err)
	}
}

func TestRunBatch_ResetFailureAborts(t *testing.T) {
	f := newFixture()
	f.store.ResetError = errors.New("deadlock")

	if _, err := f.engine.RunBatch(context.Background()); !errors.Is(err, ErrStoreFailure) {
		t.Errorf("RunBatch() error = %v, want ErrStoreFailure", err)
	}
	if f.ext.calls != 0 {
		t.Error("no extraction should happen after a failed reset")
	}
}

func TestRunBatch_CrossOwner(t *testing.T) {
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	a := f.addPhoto(t, alice, "a", []float32{0})
	b := f.addPhoto(t, bob, "b", []float32{0.1})

	if _, err := f.engine.RunBatch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if clusterOf(t, f.store, a.ID) != clusterOf(t, f.store, b.ID) {
		t.Error("batch runs are global and may group faces across owners")
	}
	if g, _ := f.store.Groups(context.Background(), bob); len(g) != 1 || len(g[0].ImageIDs) != 1 || g[0].ImageIDs[0] != b.ID {
		t.Errorf("Groups(bob) = %+v, want only bob's image", g)
	}
}

func TestRunBatch_Progress(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.addPhoto(t, owner, "a", []float32{0})
	f.addPhoto(t, owner, "b", []float32{1})

	var calls [][2]int
	f.engine.OnProgress = func(done, total int) { calls = append(calls, [2]int{done, total}) }

	if _, err := f.engine.RunBatch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[1] != [2]int{2, 2} {
		t.Errorf("progress calls = %v", calls)
	}
}

func TestRunBatch_ContextCancelled(t *testing.T) {
	f := newFixture()
	f.addPhoto(t, uuid.New(), "a", []float32{0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.engine.RunBatch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunBatch() error = %v, want context.Canceled", err)
	}
}

// --- Incremental ---

func TestRunIncremental_MatchesExistingCluster(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	i1, e1 := f.addIndexed(t, owner, "i1", []float32{0, 0})
	c1, err := f.store.Assign(ctx, models.Assignment{ImageID: i1.ID, EmbeddingID: e1[0].ID})
	if err != nil {
		t.Fatal(err)
	}
	i2, e2 := f.addIndexed(t, owner, "i2", []float32{0.3, 0.3})

	report, err := f.engine.RunIncremental(ctx, owner)
	if err != nil {
		t.Fatalf("RunIncremental() error = %v", err)
	}

	if report.Embeddings != 1 || report.Matched != 1 || report.NewClusters != 0 {
		t.Errorf("report = %+v", report)
	}
	ms, _ := f.store.ListMatches(ctx, i2.ID)
	if len(ms) != 1 || ms[0].ClusterID != c1 {
		t.Fatalf("matches for i2 = %+v, want one in cluster %d", ms, c1)
	}
	if ms[0].Box != nil {
		t.Error("incremental matches carry no box")
	}
	if e, _ := f.store.Embedding(e2[0].ID); !e.Clustered {
		t.Error("embedding should be flagged clustered")
	}
	if len(f.thumbs.ensured) != 1 || f.thumbs.ensured[0] != i2.ID {
		t.Errorf("thumbnails ensured = %v, want [%d]", f.thumbs.ensured, i2.ID)
	}
}

func TestRunIncremental_CreatesClusterOnMismatch(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	i1, e1 := f.addIndexed(t, owner, "i1", []float32{0, 0})
	c1, _ := f.store.Assign(ctx, models.Assignment{ImageID: i1.ID, EmbeddingID: e1[0].ID})
	i3, _ := f.addIndexed(t, owner, "i3", []float32{3, 3})

	report, err := f.engine.RunIncremental(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if report.NewClusters != 1 {
		t.Errorf("NewClusters = %d, want 1", report.NewClusters)
	}
	if c := clusterOf(t, f.store, i3.ID); c == c1 {
		t.Error("i3 should be in a new cluster")
	}
}

func TestRunIncremental_NewClusterSeedsMap(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	a, _ := f.addIndexed(t, owner, "a", []float32{0})
	b, _ := f.addIndexed(t, owner, "b", []float32{0.2})

	report, err := f.engine.RunIncremental(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}
	if report.NewClusters != 1 || report.Matched != 1 {
		t.Errorf("report = %+v, want 1 new cluster and 1 match", report)
	}
	if clusterOf(t, f.store, a.ID) != clusterOf(t, f.store, b.ID) {
		t.Error("b should join the cluster a created in the same run")
	}
}

func TestRunIncremental_SingleRepresentative(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	a, _ := f.addIndexed(t, owner, "a", []float32{0})
	f.addIndexed(t, owner, "b", []float32{0.45})
	// 0.45 from b but 0.9 from a, the only representative.
	c, _ := f.addIndexed(t, owner, "c", []float32{0.9})

	report, err := f.engine.RunIncremental(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}
	if report.NewClusters != 2 {
		t.Errorf("NewClusters = %d, want 2", report.NewClusters)
	}
	if clusterOf(t, f.store, c.ID) == clusterOf(t, f.store, a.ID) {
		t.Error("c must not match through b under first-only retention")
	}
}

func TestRunIncremental_RepresentativeIsLowestImage(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	c := f.store.AddCluster("")
	i1, e1 := f.addIndexed(t, owner, "i1", []float32{0}, []float32{7})
	i2, e2 := f.addIndexed(t, owner, "i2", []float32{2})
	// ledger order deliberately puts i2 first
	f.store.Assign(ctx, models.Assignment{ClusterID: c.ID, ImageID: i2.ID, EmbeddingID: e2[0].ID})
	f.store.Assign(ctx, models.Assignment{ClusterID: c.ID, ImageID: i1.ID, EmbeddingID: e1[0].ID})
	f.store.MarkClustered(ctx, e1[1].ID)

	// close to i1's first embedding, far from i2's
	n, _ := f.addIndexed(t, owner, "n", []float32{0.1})

	if _, err := f.engine.RunIncremental(ctx, owner); err != nil {
		t.Fatal(err)
	}
	if got := clusterOf(t, f.store, n.ID); got != c.ID {
		t.Errorf("n assigned to %d, want %d (represented by i1's first embedding)", got, c.ID)
	}
}

func TestRunIncremental_ScopedToOwner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	bi, be := f.addIndexed(t, bob, "bob1", []float32{0})
	bobCluster, _ := f.store.Assign(ctx, models.Assignment{ImageID: bi.ID, EmbeddingID: be[0].ID})
	_, bobPending := f.addIndexed(t, bob, "bob2", []float32{0.1})
	ai, _ := f.addIndexed(t, alice, "alice1", []float32{0.05})

	report, err := f.engine.RunIncremental(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if report.Embeddings != 1 || report.NewClusters != 1 {
		t.Errorf("report = %+v, want alice's single embedding in a new cluster", report)
	}
	if clusterOf(t, f.store, ai.ID) == bobCluster {
		t.Error("alice's face must not be compared with bob's clusters")
	}
	if e, _ := f.store.Embedding(bobPending[0].ID); e.Clustered {
		t.Error("bob's pending embedding must be untouched")
	}
}

func TestRunIncremental_Idempotent(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.addIndexed(t, owner, "a", []float32{0})
	f.addIndexed(t, owner, "b", []float32{4})

	if _, err := f.engine.RunIncremental(context.Background(), owner); err != nil {
		t.Fatal(err)
	}
	before := len(f.store.Matches())

	report, err := f.engine.RunIncremental(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}
	if report.Embeddings != 0 || len(f.store.Matches()) != before {
		t.Errorf("second run changed state: report %+v, matches %d -> %d", report, before, len(f.store.Matches()))
	}
}

func TestRunIncremental_ThumbnailFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	_, e1 := f.addIndexed(t, owner, "a", []float32{0})
	_, e2 := f.addIndexed(t, owner, "b", []float32{5})
	f.thumbs.err = errors.New("no face found")

	report, err := f.engine.RunIncremental(context.Background(), owner)
	if err != nil {
		t.Fatalf("RunIncremental() error = %v", err)
	}
	if report.ThumbnailFailures != 2 || report.Embeddings != 2 {
		t.Errorf("report = %+v, want 2 embeddings with 2 thumbnail failures", report)
	}
	for _, id := range []int64{e1[0].ID, e2[0].ID} {
		if e, _ := f.store.Embedding(id); !e.Clustered {
			t.Errorf("embedding %d should be clustered despite thumbnail failure", id)
		}
	}
}

func TestRunIncremental_StoreFailureLeavesNoOrphans(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	_, e1 := f.addIndexed(t, owner, "a", []float32{0})
	_, e2 := f.addIndexed(t, owner, "b", []float32{9})
	f.store.FailAssignAfter = 1

	_, err := f.engine.RunIncremental(context.Background(), owner)
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("RunIncremental() error = %v, want ErrStoreFailure", err)
	}

	if e, _ := f.store.Embedding(e1[0].ID); !e.Clustered {
		t.Error("first embedding was committed and should be clustered")
	}
	if e, _ := f.store.Embedding(e2[0].ID); e.Clustered {
		t.Error("failed embedding must stay unclustered for the next run")
	}
	n, _ := f.store.CountClusters(context.Background())
	if n != 1 {
		t.Errorf("clusters = %d, want 1 (no orphan from the failed assignment)", n)
	}

	// a retry picks up where the failed run stopped
	f.store.FailAssignAfter = 0
	report, err := f.engine.RunIncremental(context.Background(), owner)
	if err != nil || report.Embeddings != 1 {
		t.Errorf("retry = %+v, %v; want 1 embedding", report, err)
	}
}

func TestRunIncremental_SkipsClusterWithoutEmbeddings(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	// a batch-created match on an image that was never indexed
	img := f.addPhoto(t, owner, "batch-only", []float32{0})
	f.store.Assign(ctx, models.Assignment{ImageID: img.ID, Box: &models.Box{Right: 1, Bottom: 1}})
	n, _ := f.addIndexed(t, owner, "new", []float32{0})

	report, err := f.engine.RunIncremental(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if report.NewClusters != 1 {
		t.Errorf("NewClusters = %d, want 1", report.NewClusters)
	}
	if clusterOf(t, f.store, n.ID) == clusterOf(t, f.store, img.ID) {
		t.Error("cluster without a representative cannot attract faces")
	}
}

func TestRunIncremental_InsertionOrder(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	var order []int64
	f.engine.thumbs = thumbFunc(func(img models.Image) error {
		order = append(order, img.ID)
		return nil
	})

	var want []int64
	for _, key := range []string{"z", "y", "x"} {
		img, _ := f.addIndexed(t, owner, key, []float32{float32(len(want)) * 3})
		want = append(want, img.ID)
	}

	if _, err := f.engine.RunIncremental(context.Background(), owner); err != nil {
		t.Fatal(err)
	}
	if !sort.SliceIsSorted(order, func(i, j int) bool { return order[i] < order[j] }) || len(order) != 3 {
		t.Errorf("processing order = %v, want %v", order, want)
	}
}

func TestRunIncremental_ListFailure(t *testing.T) {
	f := newFixture()
	f.store.ListPendingError = errors.New("timeout")

	if _, err := f.engine.RunIncremental(context.Background(), uuid.New()); !errors.Is(err, ErrStoreFailure) {
		t.Errorf("RunIncremental() error = %v, want ErrStoreFailure", err)
	}
}

type thumbFunc func(models.Image) error

func (f thumbFunc) Ensure(ctx context.Context, img models.Image) error { return f(img) }
