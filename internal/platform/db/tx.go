package db

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// DBTX は *sqlx.DB と *sqlx.Tx の共通部分。
type DBTX = sqlx.ExtContext

type txKey struct{}

// WithTx は Tx を開始して ctx に載せ、fn を実行する。
// fn が nil を返せば COMMIT、エラーなら ROLLBACK。
// ctx にすでに Tx がある場合はそれに参加する。
func WithTx(ctx context.Context, db *sqlx.DB, opts *sql.TxOptions, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// 読み取り専用Tx
func ReadOnly(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) error {
	return WithTx(ctx, db, &sql.TxOptions{ReadOnly: true}, fn)
}

// Conn は ctx の Tx があればそれを、なければ db を返す。
func Conn(ctx context.Context, db *sqlx.DB) DBTX {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return db
}

// InTx は ctx が Tx を保持しているか。FOR UPDATE を使う処理の前提確認用。
func InTx(ctx context.Context) bool {
	_, ok := txFromContext(ctx)
	return ok
}

func txFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok
}
