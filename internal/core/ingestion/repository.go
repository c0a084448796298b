package ingestion

import (
	"context"

	"github.com/google/uuid"
)

// Store は取り込みパイプラインの永続化アクセスを統合するインターフェース
// テスト時のモック用に消費者側で定義
type Store interface {
	// Source
	CreateSource(ctx context.Context, src *Source) error
	GetSource(ctx context.Context, id uuid.UUID) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)

	// Document
	CreateDocumentIfNotExists(ctx context.Context, doc *Document) (bool, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	ListDocumentsBySource(ctx context.Context, sourceID uuid.UUID) ([]*Document, error)

	// Chunk
	// CreateChunkIfNotExists は同一IDの行が既にあれば何もせずfalseを返す。
	// 同一IDを同時に挿入する複数ジョブが重複行を作らないことを保証する。
	CreateChunkIfNotExists(ctx context.Context, chunk *Chunk) (bool, error)
	GetChunk(ctx context.Context, id uuid.UUID) (*Chunk, error)
	GetChunksByIDs(ctx context.Context, ids []uuid.UUID) ([]*Chunk, error)
	ListChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*Chunk, error)
	ListChunksBySource(ctx context.Context, sourceID uuid.UUID) ([]*Chunk, error)

	// ChunkEmbedding
	// CreateChunkEmbeddingIfNotExists は (ChunkID, Model, Checksum) が既にあれば
	// 何もせずfalseを返す。
	CreateChunkEmbeddingIfNotExists(ctx context.Context, emb *ChunkEmbedding) (bool, error)
	ChunkEmbeddingExists(ctx context.Context, chunkID uuid.UUID, model, checksum string) (bool, error)

	// IngestionJob
	CreateJob(ctx context.Context, job *IngestionJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*IngestionJob, error)
	UpdateJob(ctx context.Context, job *IngestionJob) error
	ListJobsBySource(ctx context.Context, sourceID uuid.UUID) ([]*IngestionJob, error)
}
