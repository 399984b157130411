package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/facegroups/internal/models"
)

const imageColumns = `id, owner_id, object_key, content_type, is_deleted, uploaded_at`

func scanImage(row pgx.Row) (*models.Image, error) {
	img := &models.Image{}
	err := row.Scan(&img.ID, &img.OwnerID, &img.ObjectKey, &img.ContentType, &img.IsDeleted, &img.UploadedAt)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func collectImages(rows pgx.Rows) ([]models.Image, error) {
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

// CreateImage inserts img and fills in its ID and upload time.
func (s *PostgresStore) CreateImage(ctx context.Context, img *models.Image) error {
	if img.ContentType == "" {
		img.ContentType = "application/octet-stream"
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO images (owner_id, object_key, content_type) VALUES ($1, $2, $3) RETURNING id, uploaded_at`,
		img.OwnerID, img.ObjectKey, img.ContentType,
	).Scan(&img.ID, &img.UploadedAt)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id int64) (*models.Image, error) {
	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

// ListImages returns the owner's images, either the live library or the
// recycle bin, newest first.
func (s *PostgresStore) ListImages(ctx context.Context, owner uuid.UUID, deleted bool) ([]models.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images
		 WHERE owner_id = $1 AND is_deleted = $2
		 ORDER BY uploaded_at DESC, id DESC`, owner, deleted)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return collectImages(rows)
}

// ListActiveImages returns every non-deleted image of every owner in id order.
func (s *PostgresStore) ListActiveImages(ctx context.Context) ([]models.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE NOT is_deleted ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active images: %w", err)
	}
	return collectImages(rows)
}

// SetImageDeleted moves an image into or out of the recycle bin.
func (s *PostgresStore) SetImageDeleted(ctx context.Context, owner uuid.UUID, id int64, deleted bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET is_deleted = $1 WHERE id = $2 AND owner_id = $3`, deleted, id, owner)
	if err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteImage permanently removes a recycled image together with its
// embeddings and matches. Clusters are left in place. The removed row is
// returned so the caller can clean up blobs.
func (s *PostgresStore) DeleteImage(ctx context.Context, owner uuid.UUID, id int64) (*models.Image, error) {
	var img *models.Image
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		img, err = scanImage(tx.QueryRow(ctx,
			`SELECT `+imageColumns+` FROM images WHERE id = $1 AND owner_id = $2 FOR UPDATE`, id, owner))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNotFound
			}
			return fmt.Errorf("lock image: %w", err)
		}
		if !img.IsDeleted {
			return models.ErrNotDeleted
		}

		if _, err := tx.Exec(ctx, `DELETE FROM face_matches WHERE image_id = $1`, id); err != nil {
			return fmt.Errorf("delete matches: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM face_embeddings WHERE image_id = $1`, id); err != nil {
			return fmt.Errorf("delete embeddings: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM images WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete image: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}
