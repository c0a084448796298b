package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/research-rag/internal/platform/eventhub"
)

// Pipeline は1ジョブに対して Load → Chunk → Embed → Complete を順に実行する
// オーケストレータ。各ステージは決定的な識別子と存在チェックで冪等になっており、
// 部分的に完了したジョブを再実行しても残りの作業だけが行われる。
type Pipeline struct {
	store    Store
	loader   Loader
	chunker  *Chunker
	provider EmbeddingProvider
	index    VectorIndex
	hub      *eventhub.Hub[Event]
	logger   *slog.Logger
}

// PipelineOption はPipelineの動作を変更するオプション
type PipelineOption func(*Pipeline)

// WithPipelineLogger はロガーを設定します
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline は新しいPipelineを作成します。
// hubはnilでもよく、その場合イベント配信は行われません。
func NewPipeline(
	store Store,
	loader Loader,
	chunker *Chunker,
	provider EmbeddingProvider,
	index VectorIndex,
	hub *eventhub.Hub[Event],
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		store:    store,
		loader:   loader,
		chunker:  chunker,
		provider: provider,
		index:    index,
		hub:      hub,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run はジョブを実行します。QUEUED → RUNNING → SUCCEEDED/FAILED と遷移し、
// 完了済みステージ(job.LastStage以前)はスキップします。ステージの失敗はジョブに
// 記録して終端イベントとして配信した上で、呼び出し元(監視タスク)へ返します。
func (p *Pipeline) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	if job.Status == JobStatusSucceeded || job.Status == JobStatusFailed {
		return fmt.Errorf("job %s is already terminal (%s)", job.ID, job.Status)
	}

	if err := job.Config.Validate(); err != nil {
		return p.fail(ctx, job, err)
	}

	now := time.Now().UTC()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	p.publish(job.ID, StatusEvent{JobID: job.ID, Status: JobStatusRunning})

	p.logger.Info("取り込みジョブを開始",
		slog.String("job_id", job.ID.String()),
		slog.String("source_id", job.SourceID.String()),
		slog.Int("attempts", job.Attempts),
	)

	src, err := p.store.GetSource(ctx, job.SourceID)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("load stage: %w", err))
	}

	if !stageCompleted(job.LastStage, StageLoad) {
		docCount, err := p.runLoad(ctx, src)
		if err != nil {
			return p.fail(ctx, job, fmt.Errorf("load stage: %w", err))
		}
		if err := p.completeStage(ctx, job, StageLoad); err != nil {
			return p.fail(ctx, job, err)
		}
		p.publish(job.ID, ProgressEvent{JobID: job.ID, Stage: StageLoad, Documents: docCount})
	}

	if !stageCompleted(job.LastStage, StageChunk) {
		chunkCount, err := p.runChunk(ctx, job, src)
		if err != nil {
			return p.fail(ctx, job, fmt.Errorf("chunk stage: %w", err))
		}
		if err := p.completeStage(ctx, job, StageChunk); err != nil {
			return p.fail(ctx, job, err)
		}
		p.publish(job.ID, ProgressEvent{JobID: job.ID, Stage: StageChunk, Chunks: chunkCount})
	}

	if !stageCompleted(job.LastStage, StageEmbed) {
		embedded, err := p.runEmbed(ctx, src)
		if err != nil {
			return p.fail(ctx, job, fmt.Errorf("embed stage: %w", err))
		}
		if err := p.completeStage(ctx, job, StageEmbed); err != nil {
			return p.fail(ctx, job, err)
		}
		p.publish(job.ID, ProgressEvent{JobID: job.ID, Stage: StageEmbed, Embedded: embedded})
	}

	ended := time.Now().UTC()
	job.Status = JobStatusSucceeded
	job.LastStage = StageComplete
	job.EndedAt = &ended
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return p.fail(ctx, job, fmt.Errorf("complete stage: %w", err))
	}
	p.publish(job.ID, StatusEvent{JobID: job.ID, Status: JobStatusSucceeded})

	p.logger.Info("取り込みジョブが完了",
		slog.String("job_id", job.ID.String()),
		slog.String("source_id", job.SourceID.String()),
	)
	return nil
}

// runLoad はLoaderでソースのテキストを抽出し、Documentを作成します。
// このソースのDocumentが既に存在する場合は作成をスキップします。
func (p *Pipeline) runLoad(ctx context.Context, src *Source) (int, error) {
	existing, err := p.store.ListDocumentsBySource(ctx, src.ID)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		p.logger.Debug("ドキュメント作成をスキップ",
			slog.String("source_id", src.ID.String()),
			slog.Int("documents", len(existing)),
		)
		return len(existing), nil
	}

	loaded, err := p.loader.Load(ctx, src)
	if err != nil {
		return 0, err
	}
	if len(loaded) == 0 {
		return 0, fmt.Errorf("source %s has no readable content", src.ID)
	}

	now := time.Now().UTC()
	for i, ld := range loaded {
		doc := &Document{
			ID:        DocumentID(src.ID, i),
			SourceID:  src.ID,
			Kind:      ld.Kind,
			Title:     ld.Title,
			URI:       ld.URI,
			Position:  i,
			Metadata:  ld.Metadata,
			CreatedAt: now,
		}
		// 同一ソースの並行ジョブとはIDで収束する
		if _, err := p.store.CreateDocumentIfNotExists(ctx, doc); err != nil {
			return 0, err
		}
	}
	return len(loaded), nil
}

// runChunk は各Documentのテキストを再導出してチャンク化し、決定的IDで
// 存在しないチャンクだけを挿入します
func (p *Pipeline) runChunk(ctx context.Context, job *IngestionJob, src *Source) (int, error) {
	docs, err := p.store.ListDocumentsBySource(ctx, src.ID)
	if err != nil {
		return 0, err
	}

	loaded, err := p.loader.Load(ctx, src)
	if err != nil {
		return 0, err
	}

	total := 0
	inserted := 0
	for _, doc := range docs {
		if doc.Position >= len(loaded) {
			return 0, fmt.Errorf("document %s position %d exceeds loaded content (%d units)",
				doc.ID, doc.Position, len(loaded))
		}

		chunks, err := p.chunker.Chunk(loaded[doc.Position].Text, doc.ID, job.Config.MaxChunkSize, job.Config.ChunkOverlap)
		if err != nil {
			return 0, err
		}

		for i := range chunks {
			chunks[i].SourceID = src.ID
			created, err := p.store.CreateChunkIfNotExists(ctx, &chunks[i])
			if err != nil {
				return 0, err
			}
			if created {
				inserted++
			}
		}
		total += len(chunks)
	}

	p.logger.Debug("チャンク化が完了",
		slog.String("source_id", src.ID.String()),
		slog.Int("chunks", total),
		slog.Int("inserted", inserted),
	)
	return total, nil
}

// runEmbed は埋め込み未作成のチャンクを1バッチで埋め込み、ChunkEmbedding行と
// ベクトルインデックスのエントリを書き込みます。対象が無ければプロバイダを
// 呼ばずに戻ります。
func (p *Pipeline) runEmbed(ctx context.Context, src *Source) (int, error) {
	chunks, err := p.store.ListChunksBySource(ctx, src.ID)
	if err != nil {
		return 0, err
	}

	docs, err := p.store.ListDocumentsBySource(ctx, src.ID)
	if err != nil {
		return 0, err
	}
	docsByID := make(map[uuid.UUID]*Document, len(docs))
	for _, doc := range docs {
		docsByID[doc.ID] = doc
	}

	model := p.provider.ModelName()
	var pending []*Chunk
	for _, chunk := range chunks {
		exists, err := p.store.ChunkEmbeddingExists(ctx, chunk.ID, model, chunk.Checksum)
		if err != nil {
			return 0, err
		}
		if !exists {
			pending = append(pending, chunk)
		}
	}
	if len(pending) == 0 {
		p.logger.Debug("埋め込み対象なし", slog.String("source_id", src.ID.String()))
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, chunk := range pending {
		texts[i] = chunk.Text
	}

	vectors, err := p.provider.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding provider: %w", err)
	}
	if len(vectors) != len(pending) {
		return 0, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vectors), len(pending))
	}

	dim := len(vectors[0])
	if err := p.index.EnsureCollection(ctx, dim); err != nil {
		return 0, err
	}

	points := make([]VectorPoint, len(pending))
	for i, chunk := range pending {
		payload := VectorPayload{
			SourceID:   src.ID,
			DocumentID: chunk.DocumentID,
			ChunkID:    chunk.ID,
			ChunkIndex: chunk.ChunkIndex,
			Tags:       src.Tags,
			CreatedAt:  chunk.CreatedAt,
		}
		if doc, ok := docsByID[chunk.DocumentID]; ok {
			payload.Title = doc.Title
			if doc.URI != nil {
				payload.URI = *doc.URI
			}
		}
		points[i] = VectorPoint{ID: chunk.ID, Vector: vectors[i], Payload: payload}
	}

	// ベクトルを先に書く。ChunkEmbedding行を先に書くと、upsert失敗後の再実行で
	// 未反映のベクトルが埋め込み済み扱いになってしまう。
	if err := p.index.Upsert(ctx, points); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for i, chunk := range pending {
		emb := &ChunkEmbedding{
			ID:        uuid.New(),
			ChunkID:   chunk.ID,
			Model:     model,
			Checksum:  chunk.Checksum,
			Dimension: len(vectors[i]),
			CreatedAt: now,
		}
		if _, err := p.store.CreateChunkEmbeddingIfNotExists(ctx, emb); err != nil {
			return 0, err
		}
	}

	p.logger.Debug("埋め込みが完了",
		slog.String("source_id", src.ID.String()),
		slog.String("model", model),
		slog.Int("embedded", len(pending)),
	)
	return len(pending), nil
}

// completeStage は完了したステージをジョブに記録します
func (p *Pipeline) completeStage(ctx context.Context, job *IngestionJob, stage Stage) error {
	job.LastStage = stage
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to record completed stage %s: %w", stage, err)
	}
	return nil
}

// fail はジョブを失敗状態にして終端イベントを配信し、元のエラーを返します
func (p *Pipeline) fail(ctx context.Context, job *IngestionJob, stageErr error) error {
	msg := stageErr.Error()
	now := time.Now().UTC()
	job.Status = JobStatusFailed
	job.LastError = &msg
	job.EndedAt = &now
	if err := p.store.UpdateJob(ctx, job); err != nil {
		p.logger.Error("ジョブの失敗記録に失敗",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	p.publish(job.ID, StatusEvent{JobID: job.ID, Status: JobStatusFailed, Error: msg})

	p.logger.Warn("取り込みジョブが失敗",
		slog.String("job_id", job.ID.String()),
		slog.String("error", msg),
	)
	return stageErr
}

// publish はジョブのチャンネルへイベントを配信します
func (p *Pipeline) publish(jobID uuid.UUID, ev Event) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(JobChannelKey(jobID), ev)
}
