package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegroups/internal/models"
)

// PutEmbeddings stores the face vectors found in one image as unclustered
// embeddings, in the order given.
func (s *PostgresStore) PutEmbeddings(ctx context.Context, imageID int64, vectors [][]float32) ([]models.Embedding, error) {
	out := make([]models.Embedding, 0, len(vectors))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, v := range vectors {
			e := models.Embedding{ImageID: imageID, Vector: v}
			err := tx.QueryRow(ctx,
				`INSERT INTO face_embeddings (image_id, embedding) VALUES ($1, $2) RETURNING id, created_at`,
				imageID, pgvector.NewVector(v),
			).Scan(&e.ID, &e.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert embedding: %w", err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("put embeddings: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountEmbeddings(ctx context.Context, imageID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM face_embeddings WHERE image_id = $1`, imageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// ListUnclustered returns the owner's embeddings that no incremental run
// has assigned yet, in insertion order.
func (s *PostgresStore) ListUnclustered(ctx context.Context, owner uuid.UUID) ([]models.Embedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.image_id, e.embedding, e.clustered, e.created_at
		 FROM face_embeddings e
		 JOIN images i ON i.id = e.image_id
		 WHERE i.owner_id = $1 AND NOT e.clustered
		 ORDER BY e.id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list unclustered: %w", err)
	}
	defer rows.Close()

	var out []models.Embedding
	for rows.Next() {
		var (
			e   models.Embedding
			vec pgvector.Vector
		)
		if err := rows.Scan(&e.ID, &e.ImageID, &vec, &e.Clustered, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Vector = vec.Slice()
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkClustered flags an embedding as assigned. Repeated calls are no-ops.
func (s *PostgresStore) MarkClustered(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE face_embeddings SET clustered = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark clustered: %w", err)
	}
	return nil
}

// FirstEmbedding returns the lowest-id embedding of an image.
func (s *PostgresStore) FirstEmbedding(ctx context.Context, imageID int64) (*models.Embedding, error) {
	var (
		e   models.Embedding
		vec pgvector.Vector
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, image_id, embedding, clustered, created_at
		 FROM face_embeddings WHERE image_id = $1 ORDER BY id LIMIT 1`, imageID,
	).Scan(&e.ID, &e.ImageID, &vec, &e.Clustered, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("first embedding: %w", err)
	}
	e.Vector = vec.Slice()
	return &e, nil
}

// OwnersWithPending lists owners that have unclustered embeddings.
func (s *PostgresStore) OwnersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT i.owner_id
		 FROM face_embeddings e
		 JOIN images i ON i.id = e.image_id
		 WHERE NOT e.clustered`)
	if err != nil {
		return nil, fmt.Errorf("owners with pending: %w", err)
	}
	owners, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan owner: %w", err)
	}
	return owners, nil
}
