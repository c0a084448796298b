package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

// SourceAddAction はソースを登録するコマンドのアクション
func SourceAddAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	params := ingestion.CreateSourceParams{
		Kind:        ingestion.SourceKind(cmd.String("kind")),
		Title:       cmd.String("title"),
		URI:         optional(cmd.String("uri")),
		StoragePath: optional(cmd.String("file")),
		Notes:       optional(cmd.String("notes")),
		Tags:        cmd.StringSlice("tag"),
	}

	src, err := appCtx.Sources.CreateSource(ctx, params)
	if err != nil {
		return err
	}

	fmt.Println("✓ ソースを登録しました")
	fmt.Printf("  ID:    %s\n", src.ID)
	fmt.Printf("  Kind:  %s\n", src.Kind)
	fmt.Printf("  Title: %s\n", src.Title)
	return nil
}

// SourceListAction は登録済みソースの一覧を表示するコマンドのアクション
func SourceListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	sources, err := appCtx.Sources.ListSources(ctx)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		fmt.Println("ソースはありません")
		return nil
	}

	for _, src := range sources {
		fmt.Printf("%s  %-6s  %s\n", src.ID, src.Kind, src.Title)
	}
	fmt.Printf("\n合計: %d件\n", len(sources))
	return nil
}

// SourceShowAction はソースの詳細を表示するコマンドのアクション
func SourceShowAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	sourceID, err := parseID(cmd.String("id"), "id")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	src, err := appCtx.Sources.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	docs, err := appCtx.Store.ListDocumentsBySource(ctx, sourceID)
	if err != nil {
		return err
	}
	jobs, err := appCtx.Jobs.ListJobsBySource(ctx, sourceID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("=== ソース詳細 ===")
	fmt.Println()
	fmt.Printf("ID:         %s\n", src.ID)
	fmt.Printf("Kind:       %s\n", src.Kind)
	fmt.Printf("Title:      %s\n", src.Title)
	if src.URI != nil {
		fmt.Printf("URI:        %s\n", *src.URI)
	}
	if src.StoragePath != nil {
		fmt.Printf("File:       %s\n", *src.StoragePath)
	}
	if len(src.Tags) > 0 {
		fmt.Printf("Tags:       %s\n", strings.Join(src.Tags, ", "))
	}
	fmt.Printf("Created At: %s\n", src.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Documents:  %d\n", len(docs))

	if len(jobs) > 0 {
		fmt.Println()
		fmt.Println("取り込みジョブ:")
		for _, job := range jobs {
			fmt.Printf("  %s  %-9s  attempts=%d", job.ID, job.Status, job.Attempts)
			if job.LastError != nil {
				fmt.Printf("  error=%s", *job.LastError)
			}
			fmt.Println()
		}
	}
	return nil
}
