package ingestion

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// === Source ===

// Source は取り込み対象(アップロードファイル、URL、メモ等)を表す
type Source struct {
	ID          uuid.UUID  `json:"id"`
	Kind        SourceKind `json:"kind"`
	Title       string     `json:"title"`
	URI         *string    `json:"uri,omitempty"`
	StoragePath *string    `json:"storagePath,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// SourceKind はソースの種別を表す
type SourceKind string

const (
	SourceKindUpload SourceKind = "upload"
	SourceKindURL    SourceKind = "url"
	SourceKindText   SourceKind = "text"
	SourceKindNote   SourceKind = "note"
)

// === Document ===

// documentIDNamespace はドキュメントIDのUUIDv5名前空間
var documentIDNamespace = uuid.MustParse("c93b2f61-8a5d-47e4-b1c2-0f6e9d3a7548")

// DocumentID は (sourceID, position) から決定的なドキュメントIDを導出します。
// 同一ソースを取り込む複数ジョブが同じドキュメント行へ収束するための鍵になる。
func DocumentID(sourceID uuid.UUID, position int) uuid.UUID {
	name := fmt.Sprintf("%s:%d", sourceID, position)
	return uuid.NewSHA1(documentIDNamespace, []byte(name))
}

// Document はソースから抽出された1単位のテキスト(ページ、ファイル等)を表す。
// Loaderの1回の呼び出しで作成され、以後変更されない。
type Document struct {
	ID        uuid.UUID      `json:"id"`
	SourceID  uuid.UUID      `json:"sourceID"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	URI       *string        `json:"uri,omitempty"`
	Position  int            `json:"position"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// === Chunk ===

// Chunk は正規化済みテキストの連続した(重なりうる)区間を表す。
// IDは (documentID, chunkIndex, checksum) から決定的に導出されるため、
// 同一入力の再チャンク化は同一IDを再現する。
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"documentID"`
	SourceID   uuid.UUID `json:"sourceID"`
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	CharStart  int       `json:"charStart"`
	CharEnd    int       `json:"charEnd"`
	TokenCount int       `json:"tokenCount"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"createdAt"`
}

// === ChunkEmbedding ===

// ChunkEmbedding はあるチャンクをあるモデルで埋め込み済みであることを記録する。
// (ChunkID, Model, Checksum) ごとに高々1行で、同一内容の再埋め込みはno-opになる。
type ChunkEmbedding struct {
	ID        uuid.UUID `json:"id"`
	ChunkID   uuid.UUID `json:"chunkID"`
	Model     string    `json:"model"`
	Checksum  string    `json:"checksum"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"createdAt"`
}

// === IngestionJob ===

// JobStatus はジョブの状態を表す
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Stage はパイプラインのステージを表す
type Stage string

const (
	StageLoad     Stage = "load"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageComplete Stage = "complete"
)

// stageOrder はステージの実行順序
var stageOrder = []Stage{StageLoad, StageChunk, StageEmbed, StageComplete}

// stageCompleted はlastを完了済みとしたときにstageが完了済みかを返す
func stageCompleted(last, stage Stage) bool {
	if last == "" {
		return false
	}
	lastIdx, stageIdx := -1, -1
	for i, s := range stageOrder {
		if s == last {
			lastIdx = i
		}
		if s == stage {
			stageIdx = i
		}
	}
	return lastIdx >= stageIdx
}

// チャンク分割の既定値
const (
	DefaultMaxChunkSize = 1000
	DefaultChunkOverlap = 120
)

// JobConfig はジョブのチャンク分割設定
type JobConfig struct {
	MaxChunkSize int `json:"maxChunkSize"`
	ChunkOverlap int `json:"chunkOverlap"`
}

// DefaultJobConfig は既定のチャンク分割設定を返す
func DefaultJobConfig() JobConfig {
	return JobConfig{
		MaxChunkSize: DefaultMaxChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// Validate は設定値の妥当性を検査する
func (c JobConfig) Validate() error {
	if c.MaxChunkSize <= 0 {
		return NewValidationError("maxChunkSize", "must be positive")
	}
	if c.ChunkOverlap < 0 {
		return NewValidationError("chunkOverlap", "must not be negative")
	}
	if c.ChunkOverlap >= c.MaxChunkSize {
		return NewValidationError("chunkOverlap", "must be smaller than maxChunkSize")
	}
	return nil
}

// IngestionJob は1ソースに対する1回のパイプライン実行を表す
type IngestionJob struct {
	ID        uuid.UUID  `json:"id"`
	SourceID  uuid.UUID  `json:"sourceID"`
	Status    JobStatus  `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError *string    `json:"lastError,omitempty"`
	LastStage Stage      `json:"lastStage,omitempty"`
	Config    JobConfig  `json:"config"`
	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// JobChannelKey はジョブのイベント配信チャンネルのキーを返す
func JobChannelKey(jobID uuid.UUID) string {
	return "ingest:" + jobID.String()
}
