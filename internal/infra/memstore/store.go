// Package memstore は ingestion.Store のインメモリ実装を提供する。
// 外部依存なしで動かすプロファイルとテストで使用する。
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

// Store は ingestion.Store のインメモリ実装。
// 挿入順を保持し、一覧系メソッドは作成順で返す。
type Store struct {
	mu         sync.Mutex
	sources    []*ingestion.Source
	documents  []*ingestion.Document
	chunks     []*ingestion.Chunk
	embeddings []*ingestion.ChunkEmbedding
	jobs       []*ingestion.IngestionJob
}

// New は新しいStoreを作成します
func New() *Store {
	return &Store{}
}

// CreateSource はソースを保存します
func (s *Store) CreateSource(ctx context.Context, src *ingestion.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sources {
		if existing.ID == src.ID {
			return fmt.Errorf("source %s already exists", src.ID)
		}
	}
	cp := *src
	s.sources = append(s.sources, &cp)
	return nil
}

// GetSource はソースを取得します
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*ingestion.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range s.sources {
		if src.ID == id {
			cp := *src
			return &cp, nil
		}
	}
	return nil, ingestion.ErrSourceNotFound
}

// ListSources は全ソースを作成順に返します
func (s *Store) ListSources(ctx context.Context) ([]*ingestion.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ingestion.Source, 0, len(s.sources))
	for _, src := range s.sources {
		cp := *src
		out = append(out, &cp)
	}
	return out, nil
}

// CreateDocumentIfNotExists は同一IDのドキュメントが無い場合のみ挿入します
func (s *Store) CreateDocumentIfNotExists(ctx context.Context, doc *ingestion.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.documents {
		if existing.ID == doc.ID {
			return false, nil
		}
	}
	cp := *doc
	s.documents = append(s.documents, &cp)
	return true, nil
}

// GetDocument はドキュメントを取得します
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*ingestion.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.documents {
		if doc.ID == id {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, ingestion.ErrDocumentNotFound
}

// ListDocumentsBySource はソースのドキュメントをposition順に返します
func (s *Store) ListDocumentsBySource(ctx context.Context, sourceID uuid.UUID) ([]*ingestion.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ingestion.Document
	for _, doc := range s.documents {
		if doc.SourceID == sourceID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	slices.SortStableFunc(out, func(a, b *ingestion.Document) int {
		return a.Position - b.Position
	})
	return out, nil
}

// CreateChunkIfNotExists は同一IDのチャンクが無い場合のみ挿入します
func (s *Store) CreateChunkIfNotExists(ctx context.Context, chunk *ingestion.Chunk) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.chunks {
		if existing.ID == chunk.ID {
			return false, nil
		}
	}
	cp := *chunk
	s.chunks = append(s.chunks, &cp)
	return true, nil
}

// GetChunk はチャンクを取得します
func (s *Store) GetChunk(ctx context.Context, id uuid.UUID) (*ingestion.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range s.chunks {
		if chunk.ID == id {
			cp := *chunk
			return &cp, nil
		}
	}
	return nil, ingestion.ErrChunkNotFound
}

// GetChunksByIDs は見つかったチャンクだけを返します。存在しないIDは黙って除外されます。
func (s *Store) GetChunksByIDs(ctx context.Context, ids []uuid.UUID) ([]*ingestion.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[uuid.UUID]*ingestion.Chunk, len(s.chunks))
	for _, chunk := range s.chunks {
		byID[chunk.ID] = chunk
	}

	var out []*ingestion.Chunk
	for _, id := range ids {
		if chunk, ok := byID[id]; ok {
			cp := *chunk
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListChunksByDocument はドキュメントのチャンクをchunkIndex順に返します
func (s *Store) ListChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*ingestion.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ingestion.Chunk
	for _, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			cp := *chunk
			out = append(out, &cp)
		}
	}
	slices.SortStableFunc(out, func(a, b *ingestion.Chunk) int {
		return a.ChunkIndex - b.ChunkIndex
	})
	return out, nil
}

// ListChunksBySource はソースの全チャンクを作成順に返します
func (s *Store) ListChunksBySource(ctx context.Context, sourceID uuid.UUID) ([]*ingestion.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ingestion.Chunk
	for _, chunk := range s.chunks {
		if chunk.SourceID == sourceID {
			cp := *chunk
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountChunks は保存済みチャンク数を返します
func (s *Store) CountChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// CreateChunkEmbeddingIfNotExists は (chunkID, model, checksum) の行が無い場合のみ挿入します
func (s *Store) CreateChunkEmbeddingIfNotExists(ctx context.Context, emb *ingestion.ChunkEmbedding) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.embeddings {
		if existing.ChunkID == emb.ChunkID && existing.Model == emb.Model && existing.Checksum == emb.Checksum {
			return false, nil
		}
	}
	cp := *emb
	s.embeddings = append(s.embeddings, &cp)
	return true, nil
}

// ChunkEmbeddingExists は (chunkID, model, checksum) の行の有無を返します
func (s *Store) ChunkEmbeddingExists(ctx context.Context, chunkID uuid.UUID, model, checksum string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, emb := range s.embeddings {
		if emb.ChunkID == chunkID && emb.Model == model && emb.Checksum == checksum {
			return true, nil
		}
	}
	return false, nil
}

// CountChunkEmbeddings は保存済み埋め込み行数を返します
func (s *Store) CountChunkEmbeddings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.embeddings)
}

// CreateJob はジョブを保存します
func (s *Store) CreateJob(ctx context.Context, job *ingestion.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.ID == job.ID {
			return fmt.Errorf("job %s already exists", job.ID)
		}
	}
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return nil
}

// GetJob はジョブを取得します
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*ingestion.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.ID == id {
			cp := *job
			return &cp, nil
		}
	}
	return nil, ingestion.ErrJobNotFound
}

// UpdateJob はジョブを上書き保存します
func (s *Store) UpdateJob(ctx context.Context, job *ingestion.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.jobs {
		if existing.ID == job.ID {
			cp := *job
			s.jobs[i] = &cp
			return nil
		}
	}
	return ingestion.ErrJobNotFound
}

// ListJobsBySource はソースのジョブを作成順に返します
func (s *Store) ListJobsBySource(ctx context.Context, sourceID uuid.UUID) ([]*ingestion.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ingestion.IngestionJob
	for _, job := range s.jobs {
		if job.SourceID == sourceID {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}
