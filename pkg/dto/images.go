package dto

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
)

type ImageResponse struct {
	ID           int64     `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	ContentType  string    `json:"content_type"`
	IsDeleted    bool      `json:"is_deleted"`
	UploadedAt   string    `json:"uploaded_at"`
	FileURL      string    `json:"file_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

type ImageListResponse struct {
	Images []ImageResponse `json:"images"`
	Total  int             `json:"total"`
}

func NewImageResponse(img models.Image) ImageResponse {
	id := strconv.FormatInt(img.ID, 10)
	return ImageResponse{
		ID:           img.ID,
		OwnerID:      img.OwnerID,
		ContentType:  img.ContentType,
		IsDeleted:    img.IsDeleted,
		UploadedAt:   img.UploadedAt.UTC().Format(time.RFC3339),
		FileURL:      "/v1/images/" + id + "/file",
		ThumbnailURL: "/v1/faces/thumbnails/" + id,
	}
}

func NewImageListResponse(images []models.Image) ImageListResponse {
	resp := ImageListResponse{Images: make([]ImageResponse, 0, len(images)), Total: len(images)}
	for _, img := range images {
		resp.Images = append(resp.Images, NewImageResponse(img))
	}
	return resp
}
