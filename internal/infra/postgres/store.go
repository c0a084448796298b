// Package postgres は永続化層とベクトルインデックスのPostgreSQL実装を提供する。
// ベクトル検索にはpgvector拡張を使用する。
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

// Store は ingestion.Store のPostgreSQL実装
type Store struct {
	pool *pgxpool.Pool
}

// NewStore は新しいStoreを作成します
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// コンパイル時の型チェック
var _ ingestion.Store = (*Store)(nil)

// scanner はpgx.Rowとpgx.Rowsの共通部分
type scanner interface {
	Scan(dest ...any) error
}

// === Source ===

const sourceColumns = "id, kind, title, uri, storage_path, notes, tags, created_at"

func scanSource(row scanner) (*ingestion.Source, error) {
	var src ingestion.Source
	err := row.Scan(
		&src.ID,
		&src.Kind,
		&src.Title,
		&src.URI,
		&src.StoragePath,
		&src.Notes,
		&src.Tags,
		&src.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// CreateSource はソースを保存します
func (s *Store) CreateSource(ctx context.Context, src *ingestion.Source) error {
	tags := src.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sources (id, kind, title, uri, storage_path, notes, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		src.ID, src.Kind, src.Title, src.URI, src.StoragePath, src.Notes, tags, src.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	return nil
}

// GetSource はソースを取得します
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*ingestion.Source, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ingestion.ErrSourceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// ListSources は全ソースを作成順に取得します
func (s *Store) ListSources(ctx context.Context) ([]*ingestion.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []*ingestion.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return out, nil
}

// === Document ===

const documentColumns = "id, source_id, kind, title, uri, position, metadata, created_at"

func scanDocument(row scanner) (*ingestion.Document, error) {
	var doc ingestion.Document
	err := row.Scan(
		&doc.ID,
		&doc.SourceID,
		&doc.Kind,
		&doc.Title,
		&doc.URI,
		&doc.Position,
		&doc.Metadata,
		&doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateDocumentIfNotExists は同一IDのドキュメントが無い場合のみ挿入します
func (s *Store) CreateDocumentIfNotExists(ctx context.Context, doc *ingestion.Document) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, source_id, kind, title, uri, position, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		doc.ID, doc.SourceID, doc.Kind, doc.Title, doc.URI, doc.Position, doc.Metadata, doc.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetDocument はドキュメントを取得します
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*ingestion.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ingestion.ErrDocumentNotFound, id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListDocumentsBySource はソースのドキュメントをposition順に取得します
func (s *Store) ListDocumentsBySource(ctx context.Context, sourceID uuid.UUID) ([]*ingestion.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE source_id = $1 ORDER BY position`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*ingestion.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return out, nil
}

// === Chunk ===

const chunkColumns = "id, document_id, source_id, chunk_index, content, char_start, char_end, token_count, checksum, created_at"

func scanChunk(row scanner) (*ingestion.Chunk, error) {
	var chunk ingestion.Chunk
	err := row.Scan(
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.SourceID,
		&chunk.ChunkIndex,
		&chunk.Text,
		&chunk.CharStart,
		&chunk.CharEnd,
		&chunk.TokenCount,
		&chunk.Checksum,
		&chunk.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// CreateChunkIfNotExists は同一IDのチャンクが無い場合のみ挿入します
func (s *Store) CreateChunkIfNotExists(ctx context.Context, chunk *ingestion.Chunk) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chunks (id, document_id, source_id, chunk_index, content, char_start, char_end, token_count, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`,
		chunk.ID, chunk.DocumentID, chunk.SourceID, chunk.ChunkIndex, chunk.Text,
		chunk.CharStart, chunk.CharEnd, chunk.TokenCount, chunk.Checksum, chunk.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create chunk: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetChunk はチャンクを取得します
func (s *Store) GetChunk(ctx context.Context, id uuid.UUID) (*ingestion.Chunk, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = $1`, id)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ingestion.ErrChunkNotFound, id)
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

// GetChunksByIDs は見つかったチャンクだけを返します。存在しないIDは黙って除外されます。
func (s *Store) GetChunksByIDs(ctx context.Context, ids []uuid.UUID) ([]*ingestion.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*ingestion.Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}

	// 呼び出し順を保って返す
	out := make([]*ingestion.Chunk, 0, len(byID))
	for _, id := range ids {
		if chunk, ok := byID[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

// ListChunksByDocument はドキュメントのチャンクをchunk_index順に取得します
func (s *Store) ListChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*ingestion.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ListChunksBySource はソースの全チャンクをドキュメント位置、chunk_index順に取得します
func (s *Store) ListChunksBySource(ctx context.Context, sourceID uuid.UUID) ([]*ingestion.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.source_id, c.chunk_index, c.content, c.char_start, c.char_end, c.token_count, c.checksum, c.created_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.source_id = $1
		ORDER BY d.position, c.chunk_index`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func collectChunks(rows pgx.Rows) ([]*ingestion.Chunk, error) {
	var out []*ingestion.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return out, nil
}

// === ChunkEmbedding ===

// CreateChunkEmbeddingIfNotExists は (chunk_id, model, checksum) の行が無い場合のみ挿入します
func (s *Store) CreateChunkEmbeddingIfNotExists(ctx context.Context, emb *ingestion.ChunkEmbedding) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chunk_embeddings (id, chunk_id, model, checksum, dimension, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		emb.ID, emb.ChunkID, emb.Model, emb.Checksum, emb.Dimension, emb.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create chunk embedding: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ChunkEmbeddingExists は (chunk_id, model, checksum) の行の有無を返します
func (s *Store) ChunkEmbeddingExists(ctx context.Context, chunkID uuid.UUID, model, checksum string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chunk_embeddings WHERE chunk_id = $1 AND model = $2 AND checksum = $3
		)`, chunkID, model, checksum).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check chunk embedding: %w", err)
	}
	return exists, nil
}

// === IngestionJob ===

const jobColumns = "id, source_id, status, attempts, last_error, last_stage, config, created_at, started_at, ended_at"

func scanJob(row scanner) (*ingestion.IngestionJob, error) {
	var job ingestion.IngestionJob
	err := row.Scan(
		&job.ID,
		&job.SourceID,
		&job.Status,
		&job.Attempts,
		&job.LastError,
		&job.LastStage,
		&job.Config,
		&job.CreatedAt,
		&job.StartedAt,
		&job.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob はジョブを保存します
func (s *Store) CreateJob(ctx context.Context, job *ingestion.IngestionJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_jobs (id, source_id, status, attempts, last_error, last_stage, config, created_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.SourceID, job.Status, job.Attempts, job.LastError, job.LastStage,
		job.Config, job.CreatedAt, job.StartedAt, job.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob はジョブを取得します
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*ingestion.IngestionJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ingestion.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateJob はジョブを上書き保存します
func (s *Store) UpdateJob(ctx context.Context, job *ingestion.IngestionJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs
		SET status = $2, attempts = $3, last_error = $4, last_stage = $5, config = $6, started_at = $7, ended_at = $8
		WHERE id = $1`,
		job.ID, job.Status, job.Attempts, job.LastError, job.LastStage,
		job.Config, job.StartedAt, job.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrJobNotFound, job.ID)
	}
	return nil
}

// ListJobsBySource はソースのジョブを作成順に取得します
func (s *Store) ListJobsBySource(ctx context.Context, sourceID uuid.UUID) ([]*ingestion.IngestionJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE source_id = $1 ORDER BY created_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*ingestion.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return out, nil
}
