package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound はソースが存在しない場合に返されます
	ErrSourceNotFound = errors.New("source not found")

	// ErrDocumentNotFound はドキュメントが存在しない場合に返されます
	ErrDocumentNotFound = errors.New("document not found")

	// ErrChunkNotFound はチャンクが存在しない場合に返されます
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrJobNotFound はジョブが存在しない場合に返されます
	ErrJobNotFound = errors.New("ingestion job not found")

	// ErrDimensionMismatch は既存コレクションと異なる次元のベクトルを扱おうとした場合に返されます
	ErrDimensionMismatch = errors.New("vector collection dimension mismatch")

	// ErrJobNotRetryable は失敗状態でないジョブをリトライしようとした場合に返されます
	ErrJobNotRetryable = errors.New("ingestion job is not in a retryable state")
)

// ValidationError はジョブ設定の検証エラーを表します
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job config: %s %s", e.Field, e.Message)
}

// NewValidationError は新しいValidationErrorを作成します
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
