// Package loader はソース種別ごとのテキスト抽出を提供する。
// インラインテキスト、ローカルファイル、URLのいずれからも正規化済みテキストを
// 取り出し、読み取れない入力は空のスライスとして扱う。
package loader

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

const (
	// maxFetchSize はURL取得時に読み込む最大バイト数(5MB)
	maxFetchSize = int64(5 * 1024 * 1024)

	// defaultFetchTimeout はURL取得の既定タイムアウト
	defaultFetchTimeout = 30 * time.Second

	userAgent = "research-rag/1.0"
)

// Loader は ingestion.Loader の実装
type Loader struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option はLoaderのオプション
type Option func(*Loader)

// WithHTTPClient はURL取得に使うHTTPクライアントを設定します
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) {
		l.httpClient = client
	}
}

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// New は新しいLoaderを作成します
func New(opts ...Option) *Loader {
	l := &Loader{
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ ingestion.Loader = (*Loader)(nil)

// Load はソースからテキストを抽出します
func (l *Loader) Load(ctx context.Context, src *ingestion.Source) ([]ingestion.LoadedDocument, error) {
	switch src.Kind {
	case ingestion.SourceKindText, ingestion.SourceKindNote:
		return l.loadInline(src), nil
	case ingestion.SourceKindUpload:
		return l.loadFile(src), nil
	case ingestion.SourceKindURL:
		return l.loadURL(ctx, src), nil
	default:
		l.logger.Warn("未知のソース種別です",
			slog.String("source_id", src.ID.String()),
			slog.String("kind", string(src.Kind)),
		)
		return nil, nil
	}
}

func (l *Loader) loadInline(src *ingestion.Source) []ingestion.LoadedDocument {
	if src.Notes == nil {
		return nil
	}
	return []ingestion.LoadedDocument{{
		Kind:  "text",
		Title: src.Title,
		Text:  ingestion.NormalizeText(*src.Notes),
	}}
}

func (l *Loader) loadFile(src *ingestion.Source) []ingestion.LoadedDocument {
	if src.StoragePath == nil {
		return nil
	}
	path := *src.StoragePath

	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn("ファイルを読み取れません",
			slog.String("source_id", src.ID.String()),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil
	}

	doc := ingestion.LoadedDocument{
		Kind:     "text",
		Title:    src.Title,
		Text:     ingestion.NormalizeText(string(data)),
		Metadata: map[string]any{"path": path},
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		title, text, err := extractHTML(strings.NewReader(string(data)))
		if err != nil {
			l.logger.Warn("HTMLを解析できません",
				slog.String("source_id", src.ID.String()),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		doc.Kind = "html"
		doc.Text = text
		if title != "" {
			doc.Title = title
		}
	}

	return []ingestion.LoadedDocument{doc}
}

func (l *Loader) loadURL(ctx context.Context, src *ingestion.Source) []ingestion.LoadedDocument {
	if src.URI == nil {
		return nil
	}
	uri := *src.URI

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		l.logger.Warn("URLが不正です",
			slog.String("source_id", src.ID.String()),
			slog.String("uri", uri),
			slog.String("error", err.Error()),
		)
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		l.logger.Warn("URLを取得できません",
			slog.String("source_id", src.ID.String()),
			slog.String("uri", uri),
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.logger.Warn("URLの取得に失敗しました",
			slog.String("source_id", src.ID.String()),
			slog.String("uri", uri),
			slog.Int("status", resp.StatusCode),
		)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		l.logger.Warn("応答を読み取れません",
			slog.String("source_id", src.ID.String()),
			slog.String("uri", uri),
			slog.String("error", err.Error()),
		)
		return nil
	}

	doc := ingestion.LoadedDocument{
		Kind:     "text",
		Title:    src.Title,
		URI:      src.URI,
		Text:     ingestion.NormalizeText(string(body)),
		Metadata: map[string]any{"content_type": resp.Header.Get("Content-Type")},
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		title, text, err := extractHTML(strings.NewReader(string(body)))
		if err != nil {
			l.logger.Warn("HTMLを解析できません",
				slog.String("source_id", src.ID.String()),
				slog.String("uri", uri),
				slog.String("error", err.Error()),
			)
			return nil
		}
		doc.Kind = "html"
		doc.Text = text
		if title != "" {
			doc.Title = title
		}
	}

	return []ingestion.LoadedDocument{doc}
}

// extractHTML はHTMLからタイトルと本文のテキストを取り出す。
// script/style/noscriptの中身は本文に含めない。
func extractHTML(r io.Reader) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", err
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript").Remove()
	text = ingestion.NormalizeText(doc.Find("body").Text())
	return title, text, nil
}
