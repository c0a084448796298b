package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

// DefaultCollection は既定のベクトルコレクション名
const DefaultCollection = "chunks"

// VectorIndex は ingestion.VectorIndex のpgvector実装。
// ベクトルは vector_entries テーブルにコレクション名付きで格納され、
// コレクションごとの次元は vector_collections テーブルで管理される。
type VectorIndex struct {
	pool       *pgxpool.Pool
	collection string
}

// NewVectorIndex は新しいVectorIndexを作成します。
// collectionが空の場合はDefaultCollectionを使用する。
func NewVectorIndex(pool *pgxpool.Pool, collection string) *VectorIndex {
	if collection == "" {
		collection = DefaultCollection
	}
	return &VectorIndex{pool: pool, collection: collection}
}

var _ ingestion.VectorIndex = (*VectorIndex)(nil)

// EnsureCollection はコレクションの次元を登録し、既存の次元と照合します
func (x *VectorIndex) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("dimension must be positive: %d", dim)
	}
	// DO NOTHINGだと競合時にRETURNINGが行を返さないため、既存値を再代入するDO UPDATEにしている
	var existing int
	err := x.pool.QueryRow(ctx, `
		INSERT INTO vector_collections (name, dimension)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET dimension = vector_collections.dimension
		RETURNING dimension`, x.collection, dim).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to ensure vector collection: %w", err)
	}
	if existing != dim {
		return fmt.Errorf("%w: collection %s has dimension %d, requested %d",
			ingestion.ErrDimensionMismatch, x.collection, existing, dim)
	}
	return nil
}

// Upsert はエントリをまとめて挿入または置換します
func (x *VectorIndex) Upsert(ctx context.Context, points []ingestion.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO vector_entries (collection, id, embedding, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (collection, id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
			x.collection, p.ID, pgvector.NewVector(p.Vector), p.Payload,
		)
	}
	results := x.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert vector entries: %w", err)
		}
	}
	return nil
}

// Search はコサイン類似度の降順で最大limit件のヒットを返します
func (x *VectorIndex) Search(ctx context.Context, vector []float32, limit int, filter *ingestion.SearchFilter) ([]ingestion.VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, 1 - (embedding <=> $2) AS score, payload
		FROM vector_entries
		WHERE collection = $1`
	args := []any{x.collection, pgvector.NewVector(vector)}
	if filter != nil && filter.SourceID != nil {
		args = append(args, filter.SourceID.String())
		query += fmt.Sprintf(` AND payload->>'source_id' = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY embedding <=> $2 LIMIT $%d`, len(args))

	rows, err := x.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector entries: %w", err)
	}
	defer rows.Close()

	var hits []ingestion.VectorHit
	for rows.Next() {
		var hit ingestion.VectorHit
		if err := rows.Scan(&hit.ID, &hit.Score, &hit.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search vector entries: %w", err)
	}
	return hits, nil
}
