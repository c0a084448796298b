package ingestion

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerProducesDeterministicIDs(t *testing.T) {
	chunker := NewChunker()
	docID := uuid.MustParse("0e3b99b7-4f3d-4df1-9f6a-30c1a8a5f6d2")
	text := strings.Repeat("alpha beta gamma delta ", 100)

	first, err := chunker.Chunk(text, docID, 200, 40)
	require.NoError(t, err)
	second, err := chunker.Chunk(text, docID, 200, 40)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].CharStart, second[i].CharStart)
		assert.Equal(t, first[i].CharEnd, second[i].CharEnd)
		assert.Equal(t, first[i].Checksum, second[i].Checksum)
	}

	// 別ドキュメントでは同じテキストでも別IDになる
	other, err := chunker.Chunk(text, uuid.New(), 200, 40)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestChunkerSnapsToPrecedingSpace(t *testing.T) {
	chunker := NewChunker()
	docID := uuid.New()

	// "word " × 400 = 2000文字、正規化後は1999文字
	text := strings.Repeat("word ", 400)

	chunks, err := chunker.Chunk(text, docID, 1000, 120)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// 先頭チャンクは1000文字目の直前のスペース位置(999)まで
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, 999, chunks[0].CharEnd)
	assert.False(t, strings.HasSuffix(chunks[0].Text, " "))

	// 次のチャンクは前チャンク終端からoverlap分だけ巻き戻した位置から始まる
	assert.Equal(t, chunks[0].CharEnd-120, chunks[1].CharStart)
	assert.Equal(t, 1874, chunks[1].CharEnd)

	// 末尾チャンクはテキスト終端まで
	assert.Equal(t, 1754, chunks[2].CharStart)
	assert.Equal(t, 1999, chunks[2].CharEnd)

	// 語の途中で切れていない
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.Text, "word"))
		assert.True(t, strings.HasSuffix(c.Text, "word"))
	}
}

func TestChunkerCoversWholeTextWithoutGaps(t *testing.T) {
	chunker := NewChunker()

	cases := map[string]struct {
		text    string
		maxSize int
		overlap int
	}{
		"空白で区切られた通常テキスト": {strings.Repeat("lorem ipsum dolor sit amet ", 80), 300, 60},
		"スペースを含まない長い連続文字": {strings.Repeat("a", 2500), 1000, 120},
		"短いテキスト":          {"hello world", 1000, 120},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			normalizedLen := len([]rune(NormalizeText(tc.text)))
			chunks, err := chunker.Chunk(tc.text, uuid.New(), tc.maxSize, tc.overlap)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			// chunk_indexは0始まりの連番
			for i, c := range chunks {
				assert.Equal(t, i, c.ChunkIndex)
			}

			// 先頭は0、末尾はテキスト終端、途中に隙間がない
			assert.Equal(t, 0, chunks[0].CharStart)
			assert.Equal(t, normalizedLen, chunks[len(chunks)-1].CharEnd)
			for i := 1; i < len(chunks); i++ {
				assert.GreaterOrEqual(t, chunks[i-1].CharEnd, chunks[i].CharStart,
					"chunk %d と %d の間に隙間がある", i-1, i)
				assert.GreaterOrEqual(t, chunks[i].CharStart, chunks[i-1].CharStart)
			}
		})
	}
}

func TestChunkerShortTextYieldsSingleChunk(t *testing.T) {
	chunker := NewChunker()

	chunks, err := chunker.Chunk("hello world", uuid.New(), 1000, 120)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, 11, chunks[0].CharEnd)
	assert.Positive(t, chunks[0].TokenCount)
	assert.NotEmpty(t, chunks[0].Checksum)
}

func TestChunkerEmptyTextYieldsNoChunks(t *testing.T) {
	chunker := NewChunker()

	for _, text := range []string{"", "   ", "\t\n  \t"} {
		chunks, err := chunker.Chunk(text, uuid.New(), 1000, 120)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunkerNormalizesWhitespace(t *testing.T) {
	chunker := NewChunker()

	chunks, err := chunker.Chunk("foo\tbar\n\nbaz   qux", uuid.New(), 1000, 120)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "foo bar baz qux", chunks[0].Text)
}

func TestChunkerCountsCharsInRunes(t *testing.T) {
	chunker := NewChunker()

	text := "日本語のテキスト処理"
	chunks, err := chunker.Chunk(text, uuid.New(), 1000, 120)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	// バイト数ではなく文字数で数える
	assert.Equal(t, len([]rune(text)), chunks[0].CharEnd)
}

func TestChunkerRejectsInvalidParams(t *testing.T) {
	chunker := NewChunker()
	docID := uuid.New()

	_, err := chunker.Chunk("some text", docID, 0, 0)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = chunker.Chunk("some text", docID, 100, 100)
	require.Error(t, err)
	assert.ErrorAs(t, err, &verr)

	_, err = chunker.Chunk("some text", docID, 100, -1)
	require.Error(t, err)
	assert.ErrorAs(t, err, &verr)
}

func TestChunkIDChangesWithEachComponent(t *testing.T) {
	docID := uuid.New()

	base := ChunkID(docID, 0, "abc")
	assert.Equal(t, base, ChunkID(docID, 0, "abc"))
	assert.NotEqual(t, base, ChunkID(docID, 1, "abc"))
	assert.NotEqual(t, base, ChunkID(docID, 0, "abd"))
	assert.NotEqual(t, base, ChunkID(uuid.New(), 0, "abc"))
}
