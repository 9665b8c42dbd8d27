package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc defines a transaction function. ctx carries the transaction, so
// repositories resolving their handle through GetDBFromContext join it.
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// Transaction executes a function within a database transaction. Nested calls
// reuse the outer transaction.
func (db *DB) Transaction(ctx context.Context, fn TxFunc) error {
	return db.TransactionWithOptions(ctx, nil, fn)
}

// TransactionWithOptions executes a function within a database transaction with custom options
func (db *DB) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	var txOpts []*sql.TxOptions
	if opts != nil {
		txOpts = append(txOpts, opts)
	}

	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ContextWithTransaction(ctx, tx), tx); err != nil {
			db.logger.WithContext(ctx).Debug("transaction failed, rolling back", zap.Error(err))
			return err
		}
		return nil
	}, txOpts...)
}

// TransactionWithRetry runs fn in a transaction, retrying serialization
// failures and deadlocks up to maxRetries times
func (db *DB) TransactionWithRetry(ctx context.Context, maxRetries int, fn TxFunc) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			db.logger.WithContext(ctx).Warn("retrying transaction",
				zap.Int("attempt", i+1),
				zap.Int("max_retries", maxRetries),
				zap.Error(lastErr),
			)
		}
		lastErr = db.Transaction(ctx, fn)
		if lastErr == nil || !IsRetryableError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

type transactionKey struct{}

// ContextWithTransaction adds transaction to context
func ContextWithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, transactionKey{}, tx)
}

// TransactionFromContext extracts transaction from context
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(transactionKey{}).(*gorm.DB)
	return tx, ok
}

// GetDBFromContext returns the transaction stored in ctx, or the pool bound to ctx
func (db *DB) GetDBFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return db.DB.WithContext(ctx)
}
