// Package memindex は ingestion.VectorIndex のインメモリ実装を提供する。
// 総当たりのコサイン類似度で検索するため、小規模なコーパスとテスト向け。
package memindex

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

type entry struct {
	vector  []float32
	payload ingestion.VectorPayload
}

// Index は ingestion.VectorIndex のインメモリ実装
type Index struct {
	mu     sync.RWMutex
	dim    int // 0は未初期化
	points map[uuid.UUID]entry
}

// New は新しいIndexを作成します
func New() *Index {
	return &Index{
		points: make(map[uuid.UUID]entry),
	}
}

// EnsureCollection はコレクションを初期化します。既に初期化済みの場合は
// 次元が一致することだけを検査します。
func (i *Index) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.dim == 0 {
		i.dim = dimension
		return nil
	}
	if i.dim != dimension {
		return fmt.Errorf("%w: collection has dimension %d, requested %d", ingestion.ErrDimensionMismatch, i.dim, dimension)
	}
	return nil
}

// Upsert はポイントをIDで挿入または置換します
func (i *Index) Upsert(ctx context.Context, points []ingestion.VectorPoint) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, p := range points {
		if i.dim != 0 && len(p.Vector) != i.dim {
			return fmt.Errorf("%w: collection has dimension %d, point %s has %d", ingestion.ErrDimensionMismatch, i.dim, p.ID, len(p.Vector))
		}
		vec := slices.Clone(p.Vector)
		i.points[p.ID] = entry{vector: vec, payload: p.Payload}
	}
	return nil
}

// Search はクエリベクトルとのコサイン類似度の降順で最大limit件を返します
func (i *Index) Search(ctx context.Context, vector []float32, limit int, filter *ingestion.SearchFilter) ([]ingestion.VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.dim != 0 && len(vector) != i.dim {
		return nil, fmt.Errorf("%w: collection has dimension %d, query has %d", ingestion.ErrDimensionMismatch, i.dim, len(vector))
	}

	hits := make([]ingestion.VectorHit, 0, len(i.points))
	for id, e := range i.points {
		if filter != nil && filter.SourceID != nil && e.payload.SourceID != *filter.SourceID {
			continue
		}
		hits = append(hits, ingestion.VectorHit{
			ID:      id,
			Score:   cosineSimilarity(vector, e.vector),
			Payload: e.payload,
		})
	}

	slices.SortFunc(hits, func(a, b ingestion.VectorHit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineSimilarity は2つのベクトルのコサイン類似度を計算する
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
