package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/research-rag/internal/core/retrieval"
)

// SearchAction はチャンクをベクトル検索するコマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	params := retrieval.SearchParams{
		Query: cmd.String("query"),
		Limit: cmd.Int("limit"),
	}
	if value := cmd.String("source-id"); value != "" {
		id, err := parseID(value, "source-id")
		if err != nil {
			return err
		}
		params.SourceID = &id
	}

	hits, err := appCtx.Retrieval.Search(ctx, params)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		data, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(hits) == 0 {
		fmt.Println("該当するチャンクはありません")
		return nil
	}

	for i, hit := range hits {
		fmt.Printf("%2d. score=%.4f", i+1, hit.Score)
		if hit.Title != "" {
			fmt.Printf("  %s", hit.Title)
		}
		if hit.URI != "" {
			fmt.Printf("  (%s)", hit.URI)
		}
		fmt.Println()
		fmt.Printf("    chunk=%s index=%d source=%s\n", hit.ChunkID, hit.ChunkIndex, hit.SourceID)
		fmt.Printf("    %s\n", truncate(hit.Text, 200))
	}
	return nil
}

// truncate は表示用にテキストをルーン数で切り詰める
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
