package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CreateSourceParams はソース登録のパラメータ
type CreateSourceParams struct {
	Kind        SourceKind
	Title       string
	URI         *string
	StoragePath *string
	Notes       *string
	Tags        []string
}

// Validate は種別ごとの必須項目を検査する
func (p CreateSourceParams) Validate() error {
	if p.Title == "" {
		return NewValidationError("title", "must not be empty")
	}
	switch p.Kind {
	case SourceKindUpload:
		if p.StoragePath == nil || *p.StoragePath == "" {
			return NewValidationError("storagePath", "required for upload sources")
		}
	case SourceKindURL:
		if p.URI == nil || *p.URI == "" {
			return NewValidationError("uri", "required for url sources")
		}
	case SourceKindText, SourceKindNote:
		if p.Notes == nil || *p.Notes == "" {
			return NewValidationError("notes", "required for text and note sources")
		}
	default:
		return NewValidationError("kind", fmt.Sprintf("unknown source kind %q", p.Kind))
	}
	return nil
}

// SourceService はソース管理の操作を提供する
type SourceService struct {
	store  Store
	logger *slog.Logger
}

// SourceServiceOption は SourceService のオプション設定
type SourceServiceOption func(*SourceService)

// WithSourceLogger は SourceService にロガーを設定する
func WithSourceLogger(logger *slog.Logger) SourceServiceOption {
	return func(s *SourceService) {
		s.logger = logger
	}
}

// NewSourceService は新しいSourceServiceを作成する
func NewSourceService(store Store, opts ...SourceServiceOption) *SourceService {
	s := &SourceService{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSource はソースを登録します
func (s *SourceService) CreateSource(ctx context.Context, params CreateSourceParams) (*Source, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	src := &Source{
		ID:          uuid.New(),
		Kind:        params.Kind,
		Title:       params.Title,
		URI:         params.URI,
		StoragePath: params.StoragePath,
		Notes:       params.Notes,
		Tags:        params.Tags,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		return nil, fmt.Errorf("ソースの登録に失敗: %w", err)
	}

	s.logger.Info("ソースを登録",
		"sourceID", src.ID,
		"kind", src.Kind,
		"title", src.Title,
	)
	return src, nil
}

// GetSource はソースを取得します
func (s *SourceService) GetSource(ctx context.Context, id uuid.UUID) (*Source, error) {
	return s.store.GetSource(ctx, id)
}

// ListSources は全ソースを作成順に取得します
func (s *SourceService) ListSources(ctx context.Context) ([]*Source, error) {
	return s.store.ListSources(ctx)
}
