package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/facegroups/internal/models"
)

// --- Clusters ---

func (s *PostgresStore) GetCluster(ctx context.Context, id int64) (*models.Cluster, error) {
	c := &models.Cluster{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM face_clusters WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get cluster: %w", err)
	}
	return c, nil
}

// RenameCluster sets a cluster's display name. Blank names are rejected
// and leave the stored name untouched.
func (s *PostgresStore) RenameCluster(ctx context.Context, id int64, name string) error {
	name, err := models.NormalizeClusterName(name)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE face_clusters SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("rename cluster: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClustersForOwner returns every cluster with at least one match on the
// owner's images, in creation order.
func (s *PostgresStore) ClustersForOwner(ctx context.Context, owner uuid.UUID) ([]models.Cluster, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.name, c.created_at
		 FROM face_clusters c
		 WHERE EXISTS (
		     SELECT 1 FROM face_matches m
		     JOIN images i ON i.id = m.image_id
		     WHERE m.cluster_id = c.id AND i.owner_id = $1)
		 ORDER BY c.id`, owner)
	if err != nil {
		return nil, fmt.Errorf("clusters for owner: %w", err)
	}
	defer rows.Close()

	var out []models.Cluster
	for rows.Next() {
		var c models.Cluster
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountClusters(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_clusters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count clusters: %w", err)
	}
	return n, nil
}

// ResetClusters drops every match and then every cluster.
func (s *PostgresStore) ResetClusters(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM face_matches`); err != nil {
			return fmt.Errorf("delete matches: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM face_clusters`); err != nil {
			return fmt.Errorf("delete clusters: %w", err)
		}
		return nil
	})
}

// --- Matches ---

// Assign commits one clustering decision and returns the cluster id the
// match was recorded under.
func (s *PostgresStore) Assign(ctx context.Context, a models.Assignment) (int64, error) {
	clusterID := a.ClusterID
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if clusterID == 0 {
			if err := tx.QueryRow(ctx,
				`INSERT INTO face_clusters DEFAULT VALUES RETURNING id`).Scan(&clusterID); err != nil {
				return fmt.Errorf("create cluster: %w", err)
			}
		}

		var top, left, bottom, right *int
		if a.Box != nil {
			top, left, bottom, right = &a.Box.Top, &a.Box.Left, &a.Box.Bottom, &a.Box.Right
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO face_matches (cluster_id, image_id, box_top, box_left, box_bottom, box_right)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			clusterID, a.ImageID, top, left, bottom, right); err != nil {
			return fmt.Errorf("record match: %w", err)
		}

		if a.EmbeddingID != 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE face_embeddings SET clustered = TRUE WHERE id = $1`, a.EmbeddingID); err != nil {
				return fmt.Errorf("mark clustered: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("assign: %w", err)
	}
	return clusterID, nil
}

// FirstMatchedImage returns the lowest id among the owner's images matched
// to the cluster.
func (s *PostgresStore) FirstMatchedImage(ctx context.Context, clusterID int64, owner uuid.UUID) (int64, error) {
	var id *int64
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(m.image_id)
		 FROM face_matches m
		 JOIN images i ON i.id = m.image_id
		 WHERE m.cluster_id = $1 AND i.owner_id = $2`, clusterID, owner).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("first matched image: %w", err)
	}
	if id == nil {
		return 0, models.ErrNotFound
	}
	return *id, nil
}

// ImagesForCluster returns the owner's non-deleted images matched to the
// cluster, ascending.
func (s *PostgresStore) ImagesForCluster(ctx context.Context, clusterID int64, owner uuid.UUID) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT m.image_id
		 FROM face_matches m
		 JOIN images i ON i.id = m.image_id
		 WHERE m.cluster_id = $1 AND i.owner_id = $2 AND NOT i.is_deleted
		 ORDER BY m.image_id`, clusterID, owner)
	if err != nil {
		return nil, fmt.Errorf("images for cluster: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListMatches(ctx context.Context, imageID int64) ([]models.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cluster_id, image_id, box_top, box_left, box_bottom, box_right
		 FROM face_matches WHERE image_id = $1 ORDER BY id`, imageID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		var (
			m                        models.Match
			top, left, bottom, right *int
		)
		if err := rows.Scan(&m.ID, &m.ClusterID, &m.ImageID, &top, &left, &bottom, &right); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if top != nil && left != nil && bottom != nil && right != nil {
			m.Box = &models.Box{Top: *top, Left: *left, Bottom: *bottom, Right: *right}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Groups returns the owner's face groups: every cluster that still has a
// non-deleted image of the owner, with those image ids ascending.
func (s *PostgresStore) Groups(ctx context.Context, owner uuid.UUID) ([]models.Group, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.name, array_agg(DISTINCT i.id ORDER BY i.id)
		 FROM face_clusters c
		 JOIN face_matches m ON m.cluster_id = c.id
		 JOIN images i ON i.id = m.image_id
		 WHERE i.owner_id = $1 AND NOT i.is_deleted
		 GROUP BY c.id, c.name
		 ORDER BY c.id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		var (
			g    models.Group
			name string
		)
		if err := rows.Scan(&g.ClusterID, &name, &g.ImageIDs); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Name = models.DisplayName(name)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
