package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/research-rag/internal/platform/eventhub"
)

// TaskHandle は非同期実行された取り込みタスクを観測するためのハンドル。
// Doneのクローズ後、Errでタスクの結果を参照できる。
type TaskHandle struct {
	jobID uuid.UUID
	done  chan struct{}
	err   error
}

// JobID は対象ジョブのIDを返します
func (h *TaskHandle) JobID() uuid.UUID {
	return h.jobID
}

// Done はタスク完了時にクローズされるチャンネルを返します
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Err はタスクの結果を返します。Doneのクローズ前の値は未定義です。
func (h *TaskHandle) Err() error {
	return h.err
}

// Wait はタスクの完了かコンテキストのキャンセルまでブロックします
func (h *TaskHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.err
	}
}

// JobService は取り込みジョブのライフサイクル操作を提供する
type JobService struct {
	store    Store
	pipeline *Pipeline
	hub      *eventhub.Hub[Event]
	defaults JobConfig
	logger   *slog.Logger

	wg sync.WaitGroup
}

type jobServiceOptions struct {
	defaults JobConfig
	logger   *slog.Logger
}

// JobServiceOption は JobService のオプション設定
type JobServiceOption func(*jobServiceOptions)

// WithJobLogger は JobService にロガーを設定する
func WithJobLogger(logger *slog.Logger) JobServiceOption {
	return func(o *jobServiceOptions) {
		o.logger = logger
	}
}

// WithJobDefaults はジョブ設定の既定値を上書きする
func WithJobDefaults(cfg JobConfig) JobServiceOption {
	return func(o *jobServiceOptions) {
		o.defaults = cfg
	}
}

// NewJobService は新しいJobServiceを作成する
func NewJobService(store Store, pipeline *Pipeline, hub *eventhub.Hub[Event], opts ...JobServiceOption) *JobService {
	options := jobServiceOptions{
		defaults: DefaultJobConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if err := options.defaults.Validate(); err != nil {
		options.defaults = DefaultJobConfig()
	}

	return &JobService{
		store:    store,
		pipeline: pipeline,
		hub:      hub,
		defaults: options.defaults,
		logger:   options.logger,
	}
}

// CreateJob はソースに対する取り込みジョブをQUEUEDで作成する。
// 設定が不正な場合はジョブを永続化せずにエラーを返す。
func (s *JobService) CreateJob(ctx context.Context, sourceID uuid.UUID, cfg *JobConfig) (*IngestionJob, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗: %w", err)
	}

	config := s.defaults
	if cfg != nil {
		config = *cfg
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	job := &IngestionJob{
		ID:        uuid.New(),
		SourceID:  src.ID,
		Status:    JobStatusQueued,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("ジョブの作成に失敗: %w", err)
	}
	s.publish(job.ID, StatusEvent{JobID: job.ID, Status: JobStatusQueued})

	s.logger.Info("取り込みジョブを作成",
		"jobID", job.ID,
		"sourceID", src.ID,
		"maxChunkSize", config.MaxChunkSize,
		"chunkOverlap", config.ChunkOverlap,
	)
	return job, nil
}

// Dispatch はジョブをバックグラウンドで実行し、監視用のハンドルを返す。
// パイプラインの失敗はジョブ行に記録済みのため、ハンドル側のエラーは
// 呼び出し元の観測用で、再送出の義務はない。
func (s *JobService) Dispatch(ctx context.Context, jobID uuid.UUID) *TaskHandle {
	handle := &TaskHandle{
		jobID: jobID,
		done:  make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(handle.done)

		if err := s.pipeline.Run(ctx, jobID); err != nil {
			handle.err = err
			s.logger.Error("取り込みタスクが失敗",
				"jobID", jobID,
				"error", err,
			)
		}
	}()

	return handle
}

// RetryJob は失敗したジョブをQUEUEDに戻す。attemptsを加算し、last_errorを
// クリアする。作成済みのDocument/Chunk/ChunkEmbedding行は保持され、再実行時は
// 冪等チェックにより残りの作業だけが行われる。
func (s *JobService) RetryJob(ctx context.Context, jobID uuid.UUID) (*IngestionJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("ジョブの取得に失敗: %w", err)
	}
	if job.Status != JobStatusFailed {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotRetryable, job.ID, job.Status)
	}

	job.Status = JobStatusQueued
	job.Attempts++
	job.LastError = nil
	job.StartedAt = nil
	job.EndedAt = nil
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("ジョブの更新に失敗: %w", err)
	}
	s.publish(job.ID, StatusEvent{JobID: job.ID, Status: JobStatusQueued})

	s.logger.Info("取り込みジョブを再試行",
		"jobID", job.ID,
		"attempts", job.Attempts,
		"lastStage", job.LastStage,
	)
	return job, nil
}

// GetJob はジョブを取得します
func (s *JobService) GetJob(ctx context.Context, jobID uuid.UUID) (*IngestionJob, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobsBySource はソースに属するジョブを作成順に取得します
func (s *JobService) ListJobsBySource(ctx context.Context, sourceID uuid.UUID) ([]*IngestionJob, error) {
	return s.store.ListJobsBySource(ctx, sourceID)
}

// Subscribe はジョブのイベントチャンネルを購読します。
// 過去のイベント(最大でハブの保持上限まで)を再生した後、ライブ配信に続きます。
func (s *JobService) Subscribe(jobID uuid.UUID) *eventhub.Subscription[Event] {
	return s.hub.Channel(JobChannelKey(jobID)).Subscribe()
}

// Wait は実行中の全タスクの完了を待ちます
func (s *JobService) Wait() {
	s.wg.Wait()
}

func (s *JobService) publish(jobID uuid.UUID, ev Event) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(JobChannelKey(jobID), ev)
}
