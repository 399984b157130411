package models

import (
	"strings"
	"time"
)

const UnknownClusterName = "Unknown"

// Embedding is one face vector extracted from an image. Clustered flips to
// true once the embedding has been assigned by an incremental run.
type Embedding struct {
	ID        int64     `json:"id" db:"id"`
	ImageID   int64     `json:"image_id" db:"image_id"`
	Vector    []float32 `json:"-" db:"embedding"`
	Clustered bool      `json:"clustered" db:"clustered"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Cluster struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DisplayName returns the cluster name, or "Unknown" when it was never named.
func (c Cluster) DisplayName() string {
	return DisplayName(c.Name)
}

func DisplayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return UnknownClusterName
	}
	return name
}

// NormalizeClusterName trims a user supplied name and rejects blank ones.
func NormalizeClusterName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// Match links an image to a cluster. Box is set by batch runs only.
type Match struct {
	ID        int64 `json:"id" db:"id"`
	ClusterID int64 `json:"cluster_id" db:"cluster_id"`
	ImageID   int64 `json:"image_id" db:"image_id"`
	Box       *Box  `json:"box,omitempty"`
}

// Assignment is the unit a clustering run commits atomically: the cluster
// is created when ClusterID is zero, the match is recorded, and the
// embedding (if any) is flagged as clustered.
type Assignment struct {
	ClusterID   int64
	ImageID     int64
	EmbeddingID int64
	Box         *Box
}

// Group is one face group as presented to its owner.
type Group struct {
	ClusterID int64   `json:"id"`
	Name      string  `json:"name"`
	ImageIDs  []int64 `json:"image_ids"`
}
