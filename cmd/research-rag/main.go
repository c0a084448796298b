package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/research-rag/cmd/research-rag/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "research-rag",
		Usage: "ドキュメント取り込みとベクトル検索を行う RAG 基盤",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "データベーススキーマを適用",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
				},
				Action: commands.MigrateAction,
			},
			{
				Name:  "source",
				Usage: "ソース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "ソースを登録",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "kind",
								Usage:    "ソース種別 (upload / url / text / note)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "title",
								Usage:    "ソースのタイトル",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "uri",
								Usage: "取得元URL（url種別で必須）",
							},
							&cli.StringFlag{
								Name:  "file",
								Usage: "ファイルパス（upload種別で必須）",
							},
							&cli.StringFlag{
								Name:  "notes",
								Usage: "本文テキスト（text / note種別で必須）",
							},
							&cli.StringSliceFlag{
								Name:  "tag",
								Usage: "タグ（複数指定可）",
							},
						},
						Action: commands.SourceAddAction,
					},
					{
						Name:  "list",
						Usage: "ソース一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.SourceListAction,
					},
					{
						Name:  "show",
						Usage: "ソース詳細を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ソースID",
								Required: true,
							},
						},
						Action: commands.SourceShowAction,
					},
				},
			},
			{
				Name:  "job",
				Usage: "取り込みジョブ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "create",
						Usage: "取り込みジョブを作成して実行",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "source-id",
								Usage:    "取り込むソースのID",
								Required: true,
							},
							&cli.IntFlag{
								Name:  "max-chunk-size",
								Usage: "チャンクの最大文字数",
							},
							&cli.IntFlag{
								Name:  "chunk-overlap",
								Usage: "チャンク間の重複文字数",
							},
							&cli.BoolFlag{
								Name:  "follow",
								Usage: "イベントを逐次表示する",
							},
							&cli.BoolFlag{
								Name:  "json",
								Usage: "イベントをJSONで出力する",
							},
						},
						Action: commands.JobCreateAction,
					},
					{
						Name:  "show",
						Usage: "ジョブ詳細を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ジョブID",
								Required: true,
							},
						},
						Action: commands.JobShowAction,
					},
					{
						Name:  "retry",
						Usage: "失敗したジョブを再実行",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ジョブID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "follow",
								Usage: "イベントを逐次表示する",
							},
							&cli.BoolFlag{
								Name:  "json",
								Usage: "イベントをJSONで出力する",
							},
						},
						Action: commands.JobRetryAction,
					},
					{
						Name:  "watch",
						Usage: "実行中のジョブを監視",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ジョブID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "json",
								Usage: "イベントをJSONで出力する",
							},
						},
						Action: commands.JobWatchAction,
					},
				},
			},
			{
				Name:  "search",
				Usage: "チャンクをベクトル検索",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "最大取得件数",
					},
					&cli.StringFlag{
						Name:  "source-id",
						Usage: "検索対象を特定ソースに限定する",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "結果をJSONで出力する",
					},
				},
				Action: commands.SearchAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
