package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VectorPayload はベクトルエントリに付随する非正規化メタデータ。
// チャンク行を引かずにフィルタ検索できるよう、検索に必要な属性を持ち運ぶ。
type VectorPayload struct {
	SourceID   uuid.UUID `json:"source_id"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	Title      string    `json:"title,omitempty"`
	URI        string    `json:"uri,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// VectorPoint はインデックスへ書き込む1エントリ
type VectorPoint struct {
	ID      uuid.UUID
	Vector  []float32
	Payload VectorPayload
}

// VectorHit は類似検索の1ヒット
type VectorHit struct {
	ID      uuid.UUID
	Score   float64
	Payload VectorPayload
}

// SearchFilter は検索候補をペイロード属性の一致で絞り込む
type SearchFilter struct {
	SourceID *uuid.UUID
}

// VectorIndex はベクトル類似検索ストアのインターフェース
type VectorIndex interface {
	// EnsureCollection は指定次元のコレクションを冪等に用意する。
	// 既存コレクションの次元がdimと異なる場合はErrDimensionMismatchを返す。
	EnsureCollection(ctx context.Context, dim int) error

	// Upsert はIDをキーとした挿入または置換を行う。
	// 同一IDへの再upsertはベクトルとペイロードを上書きする。
	Upsert(ctx context.Context, points []VectorPoint) error

	// Search はクエリベクトルに近い順に最大limit件のヒットを返す。
	// filterを与えると候補をペイロード属性の一致で絞り込む。
	Search(ctx context.Context, vector []float32, limit int, filter *SearchFilter) ([]VectorHit, error)
}
