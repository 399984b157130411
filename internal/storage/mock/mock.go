// Package mock provides in-memory implementations of the storage layer for testing.
package mock

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
)

// Store is an in-memory stand-in for storage.PostgresStore.
type Store struct {
	mu         sync.RWMutex
	images     map[int64]*models.Image
	embeddings map[int64]*models.Embedding
	clusters   map[int64]*models.Cluster
	matches    []models.Match

	nextImage, nextEmbedding, nextCluster, nextMatch int64

	// Error injection
	AssignError       error
	ResetError        error
	ListImagesError   error
	ListPendingError  error
	PutEmbeddingError error
	GroupsError       error
	// FailAssignAfter makes Assign fail once this many assignments succeeded.
	FailAssignAfter int
	assigns         int
}

func NewStore() *Store {
	return &Store{
		images:     make(map[int64]*models.Image),
		embeddings: make(map[int64]*models.Embedding),
		clusters:   make(map[int64]*models.Cluster),
	}
}

// --- Images ---

func (m *Store) CreateImage(ctx context.Context, img *models.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextImage++
	img.ID = m.nextImage
	if img.UploadedAt.IsZero() {
		img.UploadedAt = time.Now()
	}
	if img.ContentType == "" {
		img.ContentType = "application/octet-stream"
	}
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

// AddImage is a test helper that inserts an image for owner and returns it.
func (m *Store) AddImage(owner uuid.UUID, key string) models.Image {
	img := &models.Image{OwnerID: owner, ObjectKey: key, ContentType: "image/jpeg"}
	_ = m.CreateImage(context.Background(), img)
	return *img
}

func (m *Store) GetImage(ctx context.Context, id int64) (*models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (m *Store) ListImages(ctx context.Context, owner uuid.UUID, deleted bool) ([]models.Image, error) {
	if m.ListImagesError != nil {
		return nil, m.ListImagesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Image
	for _, img := range m.images {
		if img.OwnerID == owner && img.IsDeleted == deleted {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Store) ListActiveImages(ctx context.Context) ([]models.Image, error) {
	if m.ListImagesError != nil {
		return nil, m.ListImagesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Image
	for _, img := range m.images {
		if !img.IsDeleted {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) SetImageDeleted(ctx context.Context, owner uuid.UUID, id int64, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok || img.OwnerID != owner {
		return models.ErrNotFound
	}
	img.IsDeleted = deleted
	return nil
}

func (m *Store) DeleteImage(ctx context.Context, owner uuid.UUID, id int64) (*models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok || img.OwnerID != owner {
		return nil, models.ErrNotFound
	}
	if !img.IsDeleted {
		return nil, models.ErrNotDeleted
	}
	m.matches = slices.DeleteFunc(m.matches, func(x models.Match) bool { return x.ImageID == id })
	for eid, e := range m.embeddings {
		if e.ImageID == id {
			delete(m.embeddings, eid)
		}
	}
	delete(m.images, id)
	cp := *img
	return &cp, nil
}

// --- Embeddings ---

func (m *Store) PutEmbeddings(ctx context.Context, imageID int64, vectors [][]float32) ([]models.Embedding, error) {
	if m.PutEmbeddingError != nil {
		return nil, m.PutEmbeddingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Embedding, 0, len(vectors))
	for _, v := range vectors {
		m.nextEmbedding++
		e := &models.Embedding{ID: m.nextEmbedding, ImageID: imageID, Vector: slices.Clone(v), CreatedAt: time.Now()}
		m.embeddings[e.ID] = e
		out = append(out, *e)
	}
	return out, nil
}

func (m *Store) CountEmbeddings(ctx context.Context, imageID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.embeddings {
		if e.ImageID == imageID {
			n++
		}
	}
	return n, nil
}

func (m *Store) ListUnclustered(ctx context.Context, owner uuid.UUID) ([]models.Embedding, error) {
	if m.ListPendingError != nil {
		return nil, m.ListPendingError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Embedding
	for _, e := range m.embeddings {
		img, ok := m.images[e.ImageID]
		if ok && img.OwnerID == owner && !e.Clustered {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) MarkClustered(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.embeddings[id]; ok {
		e.Clustered = true
	}
	return nil
}

func (m *Store) FirstEmbedding(ctx context.Context, imageID int64) (*models.Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first *models.Embedding
	for _, e := range m.embeddings {
		if e.ImageID == imageID && (first == nil || e.ID < first.ID) {
			first = e
		}
	}
	if first == nil {
		return nil, models.ErrNotFound
	}
	cp := *first
	return &cp, nil
}

func (m *Store) OwnersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range m.embeddings {
		if e.Clustered {
			continue
		}
		if img, ok := m.images[e.ImageID]; ok && !seen[img.OwnerID] {
			seen[img.OwnerID] = true
			out = append(out, img.OwnerID)
		}
	}
	return out, nil
}

// Embedding returns a stored embedding by id, for assertions.
func (m *Store) Embedding(id int64) (models.Embedding, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.embeddings[id]
	if !ok {
		return models.Embedding{}, false
	}
	return *e, true
}

// --- Clusters ---

func (m *Store) GetCluster(ctx context.Context, id int64) (*models.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Store) RenameCluster(ctx context.Context, id int64, name string) error {
	name, err := models.NormalizeClusterName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return models.ErrNotFound
	}
	c.Name = name
	return nil
}

func (m *Store) ClustersForOwner(ctx context.Context, owner uuid.UUID) ([]models.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]bool)
	var out []models.Cluster
	for _, x := range m.matches {
		img, ok := m.images[x.ImageID]
		if !ok || img.OwnerID != owner || seen[x.ClusterID] {
			continue
		}
		seen[x.ClusterID] = true
		out = append(out, *m.clusters[x.ClusterID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) CountClusters(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clusters), nil
}

func (m *Store) ResetClusters(ctx context.Context) error {
	if m.ResetError != nil {
		return m.ResetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = nil
	m.clusters = make(map[int64]*models.Cluster)
	return nil
}

// AddCluster is a test helper that creates a named cluster directly.
func (m *Store) AddCluster(name string) models.Cluster {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCluster++
	c := &models.Cluster{ID: m.nextCluster, Name: name, CreatedAt: time.Now()}
	m.clusters[c.ID] = c
	return *c
}

// --- Matches ---

func (m *Store) Assign(ctx context.Context, a models.Assignment) (int64, error) {
	if m.AssignError != nil {
		return 0, m.AssignError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAssignAfter > 0 && m.assigns >= m.FailAssignAfter {
		return 0, errInjected
	}
	m.assigns++

	clusterID := a.ClusterID
	if clusterID == 0 {
		m.nextCluster++
		clusterID = m.nextCluster
		m.clusters[clusterID] = &models.Cluster{ID: clusterID, CreatedAt: time.Now()}
	}
	m.nextMatch++
	match := models.Match{ID: m.nextMatch, ClusterID: clusterID, ImageID: a.ImageID}
	if a.Box != nil {
		b := *a.Box
		match.Box = &b
	}
	m.matches = append(m.matches, match)
	if a.EmbeddingID != 0 {
		if e, ok := m.embeddings[a.EmbeddingID]; ok {
			e.Clustered = true
		}
	}
	return clusterID, nil
}

func (m *Store) FirstMatchedImage(ctx context.Context, clusterID int64, owner uuid.UUID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first int64
	for _, x := range m.matches {
		img, ok := m.images[x.ImageID]
		if x.ClusterID != clusterID || !ok || img.OwnerID != owner {
			continue
		}
		if first == 0 || x.ImageID < first {
			first = x.ImageID
		}
	}
	if first == 0 {
		return 0, models.ErrNotFound
	}
	return first, nil
}

func (m *Store) ListMatches(ctx context.Context, imageID int64) ([]models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Match
	for _, x := range m.matches {
		if x.ImageID == imageID {
			out = append(out, x)
		}
	}
	return out, nil
}

// Matches returns a copy of the whole ledger in insertion order.
func (m *Store) Matches() []models.Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.matches)
}

func (m *Store) ImagesForCluster(ctx context.Context, clusterID int64, owner uuid.UUID) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := []int64{}
	for _, x := range m.matches {
		if x.ClusterID != clusterID {
			continue
		}
		img, ok := m.images[x.ImageID]
		if !ok || img.OwnerID != owner || img.IsDeleted {
			continue
		}
		if !slices.Contains(ids, x.ImageID) {
			ids = append(ids, x.ImageID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Store) Groups(ctx context.Context, owner uuid.UUID) ([]models.Group, error) {
	if m.GroupsError != nil {
		return nil, m.GroupsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	byCluster := make(map[int64][]int64)
	for _, x := range m.matches {
		img, ok := m.images[x.ImageID]
		if !ok || img.OwnerID != owner || img.IsDeleted {
			continue
		}
		if !slices.Contains(byCluster[x.ClusterID], x.ImageID) {
			byCluster[x.ClusterID] = append(byCluster[x.ClusterID], x.ImageID)
		}
	}

	groups := []models.Group{}
	for id, imageIDs := range byCluster {
		slices.Sort(imageIDs)
		groups = append(groups, models.Group{
			ClusterID: id,
			Name:      m.clusters[id].DisplayName(),
			ImageIDs:  imageIDs,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ClusterID < groups[j].ClusterID })
	return groups, nil
}
