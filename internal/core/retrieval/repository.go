package retrieval

import (
	"context"

	"github.com/google/uuid"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

// ChunkStore は検索結果の本文を引くための読み取りアクセス
// テスト時のモック用に消費者側で定義
type ChunkStore interface {
	// GetChunksByIDs は見つかったチャンクだけを返す。存在しないIDは黙って除外される。
	GetChunksByIDs(ctx context.Context, ids []uuid.UUID) ([]*ingestion.Chunk, error)
}

// EmbeddingProvider はクエリの埋め込みに使うプロバイダ
type EmbeddingProvider interface {
	ModelName() string
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex はベクトル近傍検索へのアクセス
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit int, filter *ingestion.SearchFilter) ([]ingestion.VectorHit, error)
}
