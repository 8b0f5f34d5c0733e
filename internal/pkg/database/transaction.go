package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	DefaultTxMaxRetries      = 5
	defaultTxInitialInterval = 20 * time.Millisecond
	defaultTxMaxInterval     = 500 * time.Millisecond
)

var (
	// ErrConflict marks a transient write conflict. Store implementations without a SQL
	// driver return it so callers classify it like a deadlock.
	ErrConflict = errors.New("write conflict")

	// ErrContention is returned once a conflicting transaction exhausted its retries.
	// The operation did not apply and may be retried by the caller.
	ErrContention = errors.New("transaction contention: retries exhausted")
)

// MySQL server error numbers that indicate a retryable conflict
const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// IsRetryable reports whether err is a transient conflict worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout, mysqlErrDupEntry:
			return true
		}
		return false
	}
	// sqlite reports busy/locked only through the message
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// Retry runs op until it succeeds, fails permanently, or maxRetries retries of a
// retryable error were spent. Exhaustion is reported as ErrContention.
func Retry(ctx context.Context, maxRetries int, op func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultTxInitialInterval
	b.MaxInterval = defaultTxMaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err != nil && IsRetryable(err) {
		log.Warnf("[Database] Giving up after %d attempts: %v", attempts, err)
		return fmt.Errorf("%w (%d attempts): %v", ErrContention, attempts, err)
	}
	return err
}

// TxRunner runs closures inside a database transaction. The transaction commits when the
// closure returns nil and rolls back otherwise; conflicts are retried with backoff.
type TxRunner struct {
	db         *gorm.DB
	maxRetries int
}

// NewTxRunner creates a transaction runner for db
func NewTxRunner(db *gorm.DB, maxRetries int) *TxRunner {
	return &TxRunner{db: db, maxRetries: maxRetries}
}

// Run executes fn in its own transaction
func (r *TxRunner) Run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return Retry(ctx, r.maxRetries, func() error {
		return r.db.WithContext(ctx).Transaction(fn)
	})
}

// DB returns the underlying handle for non-transactional reads
func (r *TxRunner) DB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}
