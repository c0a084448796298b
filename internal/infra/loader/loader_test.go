package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

const samplePage = `<html>
<head>
<title> 利用ガイド </title>
<style>body { color: red; }</style>
</head>
<body>
<h1>見出し</h1>
<p>本文の段落</p>
<script>var ignored = 1;</script>
</body>
</html>`

func newTestLoader(opts ...Option) *Loader {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(opts...)
}

func TestLoader_InlineText(t *testing.T) {
	notes := "最初の行\nつづき\t  の行"
	src := &ingestion.Source{
		ID:    uuid.New(),
		Kind:  ingestion.SourceKindText,
		Title: "メモ",
		Notes: &notes,
	}

	docs, err := newTestLoader().Load(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "text", docs[0].Kind)
	assert.Equal(t, "メモ", docs[0].Title)
	assert.Equal(t, "最初の行 つづき の行", docs[0].Text)

	// 本文の無いソースは読み取れない入力として空になる
	empty := &ingestion.Source{ID: uuid.New(), Kind: ingestion.SourceKindNote, Title: "空"}
	docs, err = newTestLoader().Load(context.Background(), empty)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoader_FileUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain  text\nfile"), 0o644))

	src := &ingestion.Source{
		ID:          uuid.New(),
		Kind:        ingestion.SourceKindUpload,
		Title:       "ファイル",
		StoragePath: &path,
	}

	docs, err := newTestLoader().Load(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "text", docs[0].Kind)
	assert.Equal(t, "ファイル", docs[0].Title)
	assert.Equal(t, "plain text file", docs[0].Text)
	assert.Equal(t, path, docs[0].Metadata["path"])
}

func TestLoader_FileUploadHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte(samplePage), 0o644))

	src := &ingestion.Source{
		ID:          uuid.New(),
		Kind:        ingestion.SourceKindUpload,
		Title:       "アップロード",
		StoragePath: &path,
	}

	docs, err := newTestLoader().Load(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "html", docs[0].Kind)
	// <title>があればソースのタイトルより優先される
	assert.Equal(t, "利用ガイド", docs[0].Title)
	assert.Equal(t, "見出し 本文の段落", docs[0].Text)
}

func TestLoader_FileUnreadable(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope.txt")

	src := &ingestion.Source{
		ID:          uuid.New(),
		Kind:        ingestion.SourceKindUpload,
		Title:       "不在",
		StoragePath: &missing,
	}
	docs, err := newTestLoader().Load(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, docs)

	noPath := &ingestion.Source{ID: uuid.New(), Kind: ingestion.SourceKindUpload, Title: "パスなし"}
	docs, err = newTestLoader().Load(context.Background(), noPath)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoader_URL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, samplePage)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "raw   text body")
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ldr := newTestLoader(WithHTTPClient(server.Client()))
	newSource := func(path string) *ingestion.Source {
		uri := server.URL + path
		return &ingestion.Source{
			ID:    uuid.New(),
			Kind:  ingestion.SourceKindURL,
			Title: "取得元",
			URI:   &uri,
		}
	}

	docs, err := ldr.Load(context.Background(), newSource("/page"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "html", docs[0].Kind)
	assert.Equal(t, "利用ガイド", docs[0].Title)
	assert.Equal(t, "見出し 本文の段落", docs[0].Text)
	require.NotNil(t, docs[0].URI)
	assert.Equal(t, server.URL+"/page", *docs[0].URI)

	docs, err = ldr.Load(context.Background(), newSource("/plain"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "text", docs[0].Kind)
	assert.Equal(t, "取得元", docs[0].Title)
	assert.Equal(t, "raw text body", docs[0].Text)

	// 200以外は読み取れない入力として空になる
	docs, err = ldr.Load(context.Background(), newSource("/missing"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoader_URLUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	uri := server.URL + "/page"
	server.Close()

	src := &ingestion.Source{
		ID:    uuid.New(),
		Kind:  ingestion.SourceKindURL,
		Title: "停止中",
		URI:   &uri,
	}
	docs, err := newTestLoader().Load(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, docs)

	noURI := &ingestion.Source{ID: uuid.New(), Kind: ingestion.SourceKindURL, Title: "URIなし"}
	docs, err = newTestLoader().Load(context.Background(), noURI)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoader_UnknownKind(t *testing.T) {
	src := &ingestion.Source{ID: uuid.New(), Kind: ingestion.SourceKind("mystery"), Title: "未知"}
	docs, err := newTestLoader().Load(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
