package retrieval

import (
	"github.com/google/uuid"
)

// DefaultLimit は検索結果件数の既定値
const DefaultLimit = 10

// SearchParams は検索のパラメータ
type SearchParams struct {
	Query    string     // 検索クエリ
	Limit    int        // 最大取得件数(0以下なら既定値)
	SourceID *uuid.UUID // 指定時はこのソースのチャンクに限定する
}

// SearchHit は検索結果の1件を表す
type SearchHit struct {
	Score      float64   `json:"score"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	SourceID   uuid.UUID `json:"source_id"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Title      string    `json:"title,omitempty"`
	URI        string    `json:"uri,omitempty"`
	Text       string    `json:"text"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
}
