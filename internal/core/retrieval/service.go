package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

// RetrievalService は意味検索のユースケースを提供する
type RetrievalService struct {
	chunks   ChunkStore
	provider EmbeddingProvider
	index    VectorIndex
	logger   *slog.Logger
}

// RetrievalServiceOption は RetrievalService のオプション設定
type RetrievalServiceOption func(*RetrievalService)

// WithRetrievalLogger は RetrievalService にロガーを設定する
func WithRetrievalLogger(logger *slog.Logger) RetrievalServiceOption {
	return func(s *RetrievalService) {
		s.logger = logger
	}
}

// NewRetrievalService は新しいRetrievalServiceを作成する
func NewRetrievalService(chunks ChunkStore, provider EmbeddingProvider, index VectorIndex, opts ...RetrievalServiceOption) *RetrievalService {
	s := &RetrievalService{
		chunks:   chunks,
		provider: provider,
		index:    index,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search はクエリを埋め込み、類似度の降順で最大Limit件のチャンクを返す。
// インデックスにあるが行が削除済みのチャンクは結果から黙って除外されるため、
// 戻り値がLimit未満になることがある。該当なしは空の結果で、エラーではない。
func (s *RetrievalService) Search(ctx context.Context, params SearchParams) ([]SearchHit, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	vectors, err := s.provider.EmbedTexts(ctx, []string{params.Query})
	if err != nil {
		return nil, fmt.Errorf("クエリの埋め込みに失敗: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding provider returned %d vectors for 1 text", len(vectors))
	}

	var filter *ingestion.SearchFilter
	if params.SourceID != nil {
		filter = &ingestion.SearchFilter{SourceID: params.SourceID}
	}

	hits, err := s.index.Search(ctx, vectors[0], limit, filter)
	if err != nil {
		return nil, fmt.Errorf("ベクトル検索に失敗: %w", err)
	}
	if len(hits) == 0 {
		return []SearchHit{}, nil
	}

	ids := make([]uuid.UUID, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	rows, err := s.chunks.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("チャンクの取得に失敗: %w", err)
	}
	byID := make(map[uuid.UUID]*ingestion.Chunk, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	results := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		chunk, ok := byID[hit.ID]
		if !ok {
			// インデックス側にだけ残ったエントリは読み飛ばす
			s.logger.Debug("行のないインデックスエントリを除外",
				"chunkID", hit.ID,
			)
			continue
		}
		results = append(results, SearchHit{
			Score:      hit.Score,
			ChunkID:    chunk.ID,
			SourceID:   chunk.SourceID,
			DocumentID: chunk.DocumentID,
			ChunkIndex: chunk.ChunkIndex,
			Title:      hit.Payload.Title,
			URI:        hit.Payload.URI,
			Text:       chunk.Text,
			CharStart:  chunk.CharStart,
			CharEnd:    chunk.CharEnd,
		})
	}

	s.logger.Debug("検索が完了",
		"model", s.provider.ModelName(),
		"limit", limit,
		"hits", len(results),
	)
	return results, nil
}
