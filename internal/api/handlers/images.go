package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/pkg/dto"
)

type ImageStore interface {
	CreateImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id int64) (*models.Image, error)
	ListImages(ctx context.Context, owner uuid.UUID, deleted bool) ([]models.Image, error)
	SetImageDeleted(ctx context.Context, owner uuid.UUID, id int64, deleted bool) error
	DeleteImage(ctx context.Context, owner uuid.UUID, id int64) (*models.Image, error)
}

type IngestPublisher interface {
	PublishIngest(ctx context.Context, task models.IngestTask) error
}

type ImageHandler struct {
	store  ImageStore
	blobs  BlobStore
	queue  IngestPublisher
	thumbs ThumbnailKeyer

	// MaxUploadBytes caps an uploaded file; zero means no limit.
	MaxUploadBytes int64
}

func NewImageHandler(store ImageStore, blobs BlobStore, queue IngestPublisher, thumbs ThumbnailKeyer) *ImageHandler {
	return &ImageHandler{store: store, blobs: blobs, queue: queue, thumbs: thumbs}
}

func uploadKey(owner uuid.UUID, filename string) string {
	name := filepath.Base(filename)
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	return fmt.Sprintf("uploads/%s/%s_%s", owner, uuid.New(), name)
}

// Upload accepts a multipart image, stores it and queues it for face
// indexing.
func (h *ImageHandler) Upload(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	if h.MaxUploadBytes > 0 && header.Size > h.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "not an image: " + contentType})
		return
	}

	img, err := h.save(c.Request.Context(), ownerID, uploadKey(ownerID, header.Filename), contentType, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewImageResponse(*img))
}

// save writes the blob before the row so a row never points at a missing
// object, then queues indexing.
func (h *ImageHandler) save(ctx context.Context, ownerID uuid.UUID, key, contentType string, data []byte) (*models.Image, error) {
	if err := h.blobs.PutObject(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	img := &models.Image{OwnerID: ownerID, ObjectKey: key, ContentType: contentType}
	if err := h.store.CreateImage(ctx, img); err != nil {
		_ = h.blobs.DeleteObject(ctx, key)
		return nil, fmt.Errorf("create image: %w", err)
	}

	task := models.IngestTask{ImageID: img.ID, OwnerID: ownerID, ObjectKey: key, QueuedAt: time.Now().UTC()}
	if err := h.queue.PublishIngest(ctx, task); err != nil {
		slog.Warn("queue image for indexing failed", "image_id", img.ID, "error", err)
	}
	return img, nil
}

// lookup loads an image owned by the caller. Other owners' images are
// reported as missing.
func (h *ImageHandler) lookup(c *gin.Context) (*models.Image, bool) {
	ownerID, ok := owner(c)
	if !ok {
		return nil, false
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return nil, false
	}

	img, err := h.store.GetImage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if img.OwnerID != ownerID {
		respondError(c, models.ErrNotFound)
		return nil, false
	}
	return img, true
}

func (h *ImageHandler) List(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	h.list(c, ownerID, c.Query("deleted") == "true")
}

// RecycleBin lists the caller's soft-deleted images.
func (h *ImageHandler) RecycleBin(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	h.list(c, ownerID, true)
}

func (h *ImageHandler) list(c *gin.Context, ownerID uuid.UUID, deleted bool) {
	images, err := h.store.ListImages(c.Request.Context(), ownerID, deleted)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewImageListResponse(images))
}

func (h *ImageHandler) Get(c *gin.Context) {
	img, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewImageResponse(*img))
}

// File streams the original image bytes.
func (h *ImageHandler) File(c *gin.Context) {
	img, ok := h.lookup(c)
	if !ok {
		return
	}
	data, err := h.blobs.GetObject(c.Request.Context(), img.ObjectKey)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, img.ContentType, data)
}

// Copy saves the image again as a new, independently indexed image.
func (h *ImageHandler) Copy(c *gin.Context) {
	src, ok := h.lookup(c)
	if !ok {
		return
	}

	data, err := h.blobs.GetObject(c.Request.Context(), src.ObjectKey)
	if err != nil {
		respondError(c, err)
		return
	}

	name := filepath.Base(src.ObjectKey)
	if i := strings.IndexByte(name, '_'); i >= 0 {
		name = name[i+1:]
	}
	img, err := h.save(c.Request.Context(), src.OwnerID, uploadKey(src.OwnerID, "copy_"+name), src.ContentType, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewImageResponse(*img))
}

// Delete moves an image to the recycle bin.
func (h *ImageHandler) Delete(c *gin.Context) {
	h.setDeleted(c, true)
}

func (h *ImageHandler) Restore(c *gin.Context) {
	h.setDeleted(c, false)
}

func (h *ImageHandler) setDeleted(c *gin.Context, deleted bool) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.store.SetImageDeleted(c.Request.Context(), ownerID, id, deleted); err != nil {
		respondError(c, err)
		return
	}
	status := "deleted"
	if !deleted {
		status = "restored"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// DeletePermanent removes a recycled image with its faces, matches, file and
// thumbnail. Clusters left without matches are kept.
func (h *ImageHandler) DeletePermanent(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	img, err := h.store.DeleteImage(ctx, ownerID, id)
	if err != nil {
		respondError(c, err)
		return
	}

	keys := []string{img.ObjectKey}
	if h.thumbs != nil {
		keys = append(keys, h.thumbs.Key(id))
	}
	if err := h.blobs.DeleteObjects(ctx, keys); err != nil {
		slog.Warn("delete image objects failed", "image_id", id, "keys", keys, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted permanently"})
}
