package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/clustering"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/runlock"
	"github.com/your-org/facegroups/pkg/dto"
)

type FaceStore interface {
	GetImage(ctx context.Context, id int64) (*models.Image, error)
	Groups(ctx context.Context, owner uuid.UUID) ([]models.Group, error)
	GetCluster(ctx context.Context, id int64) (*models.Cluster, error)
	ImagesForCluster(ctx context.Context, clusterID int64, owner uuid.UUID) ([]int64, error)
	RenameCluster(ctx context.Context, id int64, name string) error
}

type IncrementalRunner interface {
	RunIncremental(ctx context.Context, owner uuid.UUID) (*clustering.IncrementalReport, error)
}

type ThumbnailKeyer interface {
	Key(imageID int64) string
}

type FaceHandler struct {
	store  FaceStore
	blobs  BlobStore
	thumbs ThumbnailKeyer
	engine IncrementalRunner
	locker runlock.Locker
	events EventPublisher
}

// NewFaceHandler wires the face endpoints. events may be nil.
func NewFaceHandler(store FaceStore, blobs BlobStore, thumbs ThumbnailKeyer, engine IncrementalRunner, locker runlock.Locker, events EventPublisher) *FaceHandler {
	return &FaceHandler{store: store, blobs: blobs, thumbs: thumbs, engine: engine, locker: locker, events: events}
}

// Groups lists the caller's face groups with their visible images.
func (h *FaceHandler) Groups(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	groups, err := h.store.Groups(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewGroupsResponse(groups))
}

// Group returns one cluster with the caller's visible images in it.
func (h *FaceHandler) Group(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	cluster, err := h.store.GetCluster(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	ids, err := h.store.ImagesForCluster(c.Request.Context(), id, ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFaceGroup(cluster.ID, cluster.Name, ids))
}

// Cluster runs incremental clustering over the caller's new faces.
func (h *FaceHandler) Cluster(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}

	var report *clustering.IncrementalReport
	err := runlock.DoOwner(c.Request.Context(), h.locker, ownerID, func(ctx context.Context) error {
		var err error
		report, err = h.engine.RunIncremental(ctx, ownerID)
		return err
	})
	if errors.Is(err, runlock.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if h.events != nil && report.Embeddings > 0 {
		err := h.events.PublishEvent(c.Request.Context(), models.FaceEvent{
			Type:        models.EventClusteringCompleted,
			OwnerID:     ownerID,
			Matched:     report.Matched,
			NewClusters: report.NewClusters,
			Timestamp:   time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("publish clustering event failed", "owner_id", ownerID, "error", err)
		}
	}

	c.JSON(http.StatusOK, dto.ClusterResponse{
		Message:     "clustering complete",
		Embeddings:  report.Embeddings,
		Matched:     report.Matched,
		NewClusters: report.NewClusters,
	})
}

func (h *FaceHandler) Rename(c *gin.Context) {
	if _, ok := owner(c); !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	var req dto.RenameClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.RenameCluster(c.Request.Context(), id, req.Name); err != nil {
		respondError(c, err)
		return
	}
	name, _ := models.NormalizeClusterName(req.Name)
	c.JSON(http.StatusOK, gin.H{"status": "renamed", "name": name})
}

// Thumbnail serves the cached face crop of one of the caller's images.
func (h *FaceHandler) Thumbnail(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "imageId")
	if !ok {
		return
	}

	img, err := h.store.GetImage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if img.OwnerID != ownerID {
		respondError(c, models.ErrNotFound)
		return
	}

	data, err := h.blobs.GetObject(c.Request.Context(), h.thumbs.Key(id))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}
