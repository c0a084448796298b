// Package lock はPostgreSQLのアドバイザリロックを提供する。
// ロックはトランザクションスコープ(pg_advisory_xact_lock)で取得され、
// トランザクション終了時に自動的に解放される。
package lock

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GenerateLockID は文字列の組からロックIDを導出します。
// 同じ組からは常に同じIDが得られます。
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの先頭8バイトをint64として使用する
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}

// Acquire はトランザクションスコープのアドバイザリロックを取得します。
// 他のセッションが同じIDのロックを保持している間はブロックします。
func Acquire(ctx context.Context, tx pgx.Tx, lockID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
