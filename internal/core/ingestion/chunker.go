package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
)

// chunkIDNamespace はチャンクIDのUUIDv5名前空間
var chunkIDNamespace = uuid.MustParse("7a1d8c4e-3f26-4b89-9d70-5e2a14c0b6f3")

// Chunker は正規化済みテキストを重なりを持つチャンク列へ分割します。
// 同一入力からは常に同一のチャンクID列が得られます。
type Chunker struct {
	encoder *tiktoken.Tiktoken
}

// NewChunker は新しいChunkerを作成します。
// cl100k_baseエンコーディングが取得できない環境では空白区切りの概算トークン数へ
// フォールバックします。
func NewChunker() *Chunker {
	// エンコーディングの取得失敗は概算カウントで吸収する
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		encoder = nil
	}
	return &Chunker{encoder: encoder}
}

// NormalizeText は空白類(タブ・改行・連続スペース)を単一スペースへ畳み込み、
// 前後の空白を取り除きます
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Chunk はテキストをチャンク化します。
// 文字数maxSizeのウィンドウを先頭から順に取り、右端がテキスト末尾より手前なら
// 直前のスペースへ巻き戻して語の途中で切らないようにします(スペースが無ければ
// そのまま切る)。次のウィンドウはoverlap文字分重ねて開始します。
// 空または空白のみのテキストは0チャンクになります。
func (c *Chunker) Chunk(text string, documentID uuid.UUID, maxSize, overlap int) ([]Chunk, error) {
	cfg := JobConfig{MaxChunkSize: maxSize, ChunkOverlap: overlap}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	normalized := []rune(NormalizeText(text))
	if len(normalized) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var chunks []Chunk
	start := 0
	index := 0
	for start < len(normalized) {
		end := min(len(normalized), start+maxSize)
		if end < len(normalized) {
			if idx := lastSpaceBefore(normalized, start, end); idx > start {
				end = idx
			}
		}

		span := strings.TrimSpace(string(normalized[start:end]))
		if span != "" {
			checksum := chunkChecksum(span)
			chunks = append(chunks, Chunk{
				ID:         ChunkID(documentID, index, checksum),
				DocumentID: documentID,
				ChunkIndex: index,
				Text:       span,
				CharStart:  start,
				CharEnd:    end,
				TokenCount: c.tokenCount(span),
				Checksum:   checksum,
				CreatedAt:  now,
			})
			index++
		}

		if end == len(normalized) {
			break
		}
		// オーバーラップで前進できないほど短いウィンドウは重なりなしで進める
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

// tokenCount はチャンクのトークン数を数えます
func (c *Chunker) tokenCount(text string) int {
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	return max(1, len(strings.Fields(text)))
}

// lastSpaceBefore は[start, end)内で最も後ろにあるスペースの位置を返します。
// 見つからなければ-1を返します。
func lastSpaceBefore(runes []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

// ChunkID は (documentID, chunkIndex, checksum) から決定的なチャンクIDを導出します
func ChunkID(documentID uuid.UUID, chunkIndex int, checksum string) uuid.UUID {
	name := fmt.Sprintf("%s:%d:%s", documentID, chunkIndex, checksum)
	return uuid.NewSHA1(chunkIDNamespace, []byte(name))
}

// chunkChecksum はチャンク本文のSHA256ハッシュを計算します
func chunkChecksum(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
