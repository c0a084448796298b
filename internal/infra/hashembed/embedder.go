// Package hashembed はテキストのハッシュから決定的にベクトルを生成する
// 埋め込みプロバイダを提供する。意味的な近さは表現しないが、同一テキストは
// 常に同一ベクトルになるため、外部APIなしの動作確認とテストに使える。
package hashembed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// DefaultDimension は既定のベクトル次元数
const DefaultDimension = 256

// Embedder は ingestion.EmbeddingProvider の決定的な実装
type Embedder struct {
	dim int
}

// Option は Embedder のオプション設定
type Option func(*Embedder)

// WithDimension はベクトルの次元数を設定する
func WithDimension(dim int) Option {
	return func(e *Embedder) {
		e.dim = dim
	}
}

// New は新しいEmbedderを作成します
func New(opts ...Option) *Embedder {
	e := &Embedder{
		dim: DefaultDimension,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dim <= 0 {
		e.dim = DefaultDimension
	}
	return e
}

// ModelName はモデル識別子を返します。次元数を変えると別モデル扱いになります。
func (e *Embedder) ModelName() string {
	return fmt.Sprintf("hashembed-%d", e.dim)
}

// EmbedTexts は各テキストの決定的な単位ベクトルを入力と同じ順序で返します
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

// embed はFNV-1aハッシュを種とした線形合同法でベクトルを生成し、正規化する
func (e *Embedder) embed(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()

	vec := make([]float32, e.dim)
	var norm float64
	for i := range vec {
		state = state*1664525 + 1013904223
		v := float64(int32(state>>32)) / (1 << 31)
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
