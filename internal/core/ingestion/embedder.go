package ingestion

import "context"

// EmbeddingProvider はテキストをベクトル表現に変換するインターフェース。
// 実装は設定のプロバイダ名で選択され、呼び出し側の変更なしに差し替え可能。
type EmbeddingProvider interface {
	// ModelName はこのプロバイダが使うモデルの識別子を返す
	ModelName() string

	// EmbedTexts はテキスト群を一括で埋め込む。
	// 戻り値の順序は入力順と一致する。バックエンドの失敗はバッチ全体の失敗で、
	// 部分的なベクトルは返さない。
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
