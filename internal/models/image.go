package models

import (
	"time"

	"github.com/google/uuid"
)

// Image is an uploaded photo. Soft-deleted images stay in the recycle bin
// until permanently deleted.
type Image struct {
	ID          int64     `json:"id" db:"id"`
	OwnerID     uuid.UUID `json:"owner_id" db:"owner_id"`
	ObjectKey   string    `json:"object_key" db:"object_key"`
	ContentType string    `json:"content_type" db:"content_type"`
	IsDeleted   bool      `json:"is_deleted" db:"is_deleted"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// Box is a face bounding box in pixel coordinates of the source image.
type Box struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Bottom int `json:"bottom"`
	Right  int `json:"right"`
}

func (b Box) Width() int  { return b.Right - b.Left }
func (b Box) Height() int { return b.Bottom - b.Top }

// Pad grows the box by n pixels on every side and clamps it to a
// width x height image.
func (b Box) Pad(n, width, height int) Box {
	return Box{
		Top:    max(0, b.Top-n),
		Left:   max(0, b.Left-n),
		Bottom: min(height, b.Bottom+n),
		Right:  min(width, b.Right+n),
	}
}

func (b Box) Empty() bool {
	return b.Right <= b.Left || b.Bottom <= b.Top
}
