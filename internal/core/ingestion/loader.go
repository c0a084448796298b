package ingestion

import "context"

// LoadedDocument はLoaderが抽出した1単位のテキスト
type LoadedDocument struct {
	Kind     string
	Title    string
	URI      *string
	Text     string
	Metadata map[string]any
}

// Loader はソースから正規化済みテキストを抽出するインターフェース。
// 読み取れない入力はエラーではなく空のスライスを返す。
type Loader interface {
	Load(ctx context.Context, src *Source) ([]LoadedDocument, error)
}
