package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/research-rag/pkg/lock"
)

//go:embed schema.sql
var schemaSQL string

// migrateLockID はスキーマ適用を直列化するためのアドバイザリロックID
var migrateLockID = lock.GenerateLockID("research-rag", "migrate")

// Migrate はスキーマを適用する。全DDLがIF NOT EXISTSのため何度実行してもよい。
// 複数プロセスからの同時適用はアドバイザリロックで直列化する。
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lock.Acquire(ctx, tx, migrateLockID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
