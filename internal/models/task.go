package models

import (
	"time"

	"github.com/google/uuid"
)

// IngestTask is the message published to NATS after an image is stored.
type IngestTask struct {
	ImageID   int64     `json:"image_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	ObjectKey string    `json:"object_key"` // MinIO object key
	QueuedAt  time.Time `json:"queued_at"`
}

const (
	EventFacesIndexed        = "faces_indexed"
	EventClusteringCompleted = "clustering_completed"
)

// FaceEvent is published on the events stream and fanned out to the
// owner's websocket connections.
type FaceEvent struct {
	Type        string    `json:"type"`
	OwnerID     uuid.UUID `json:"owner_id"`
	ImageID     int64     `json:"image_id,omitempty"`
	FaceCount   int       `json:"face_count,omitempty"`
	NewClusters int       `json:"new_clusters,omitempty"`
	Matched     int       `json:"matched,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
