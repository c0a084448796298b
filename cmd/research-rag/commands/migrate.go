package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/research-rag/internal/infra/postgres"
	"github.com/jinford/research-rag/internal/platform/config"
	"github.com/jinford/research-rag/internal/platform/logger"
)

// MigrateAction はデータベーススキーマを適用するコマンドのアクション。
// 埋め込みプロバイダ等の設定がなくても実行できるよう、AppContextは使わず
// データベース接続のみを確立する。
func MigrateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	database, err := dbConnect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := postgres.Migrate(ctx, database.Pool); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	appLogger.Info("マイグレーションが完了しました", "database", cfg.Database.DBName)
	fmt.Println("✓ データベーススキーマを適用しました")
	return nil
}
