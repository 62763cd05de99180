// Package gormstore is the MySQL ledger.Store built on gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dvloznov/ledger-assistant/internal/ledger"
)

// ErrDuplicateKey is returned when an insert collides with an existing id.
var ErrDuplicateKey = errors.New("duplicate key")

const (
	maxOpenConns    = 50
	maxIdleConns    = 25
	connMaxLifetime = 5 * time.Minute
	connMaxIdleTime = time.Minute
)

// Store implements ledger.Store on MySQL.
type Store struct {
	db *gorm.DB
}

var _ ledger.Store = (*Store)(nil)

// Open connects to dsn (go-sql-driver format). Times are always parsed and
// stored as UTC.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	cfg, err := mysqlDriver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("gormstore.Open: parsing dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	gormLog := log.With().Str("component", "gorm").Logger()
	db, err := gorm.Open(mysql.Open(cfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.New(&gormLog, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Error,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore.Open: connecting: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetConnMaxLifetime(connMaxLifetime)
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	}

	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		log.Warn().Err(err).Msg("Failed to install otelgorm plugin")
	}

	return New(db), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the ledger tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&messageRow{}, &invoiceRow{}, &transactionRow{}); err != nil {
		return fmt.Errorf("Store.Migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithinTx implements ledger.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&tx{db: gtx})
	})
}

// FindMessageForUser implements ledger.Store.
func (s *Store) FindMessageForUser(ctx context.Context, id, userID string) (*ledger.Message, error) {
	return s.firstMessage(ctx, "id = ? AND (from_id = ? OR to_id = ?)", id, userID, userID)
}

// FindReplyTo implements ledger.Store.
func (s *Store) FindReplyTo(ctx context.Context, messageID string) (*ledger.Message, error) {
	return s.firstMessage(ctx, "reply_to_id = ?", messageID)
}

// FindMessage implements ledger.Store.
func (s *Store) FindMessage(ctx context.Context, id string) (*ledger.Message, error) {
	return s.firstMessage(ctx, "id = ?", id)
}

func (s *Store) firstMessage(ctx context.Context, query string, args ...any) (*ledger.Message, error) {
	var row messageRow
	if err := s.db.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	m := row.toLedger()
	return &m, nil
}

// FindInvoiceByMessageID implements ledger.Store.
func (s *Store) FindInvoiceByMessageID(ctx context.Context, messageID, userID string) (*ledger.Invoice, error) {
	return s.firstInvoice(ctx, "message_id = ? AND user_id = ?", messageID, userID)
}

// FindInvoice implements ledger.Store.
func (s *Store) FindInvoice(ctx context.Context, id, userID string) (*ledger.Invoice, error) {
	return s.firstInvoice(ctx, "id = ? AND user_id = ?", id, userID)
}

func (s *Store) firstInvoice(ctx context.Context, query string, args ...any) (*ledger.Invoice, error) {
	var row invoiceRow
	if err := s.db.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	inv := row.toLedger()
	return &inv, nil
}

// FindTransactionsByMessageID implements ledger.Store.
func (s *Store) FindTransactionsByMessageID(ctx context.Context, messageID, userID string) ([]ledger.Transaction, error) {
	return s.findTransactions(ctx, "message_id = ? AND user_id = ?", messageID, userID)
}

// FindTransactions implements ledger.Store.
func (s *Store) FindTransactions(ctx context.Context, userID string, ids []string) ([]ledger.Transaction, error) {
	if len(ids) == 0 {
		return []ledger.Transaction{}, nil
	}
	return s.findTransactions(ctx, "user_id = ? AND id IN ?", userID, ids)
}

// ListTransactions implements ledger.Store.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	return s.findTransactions(ctx, "user_id = ?", userID)
}

func (s *Store) findTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	var rows []transactionRow
	err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("finding transactions: %w", err)
	}
	return transactionsToLedger(rows), nil
}

// ListMessages implements ledger.Store.
func (s *Store) ListMessages(ctx context.Context, threadID string, opts ledger.ListOptions) ([]ledger.Message, error) {
	q := s.db.WithContext(ctx).Where("thread_id = ?", threadID)
	if opts.Before != nil {
		q = q.Where("created_at < ?", opts.Before.UTC())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var rows []messageRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	out := make([]ledger.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toLedger())
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.ErrNotFound
	}
	return err
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func insertErr(what string, err error) error {
	if isDuplicateKeyErr(err) {
		return fmt.Errorf("inserting %s: %w", what, ErrDuplicateKey)
	}
	return fmt.Errorf("inserting %s: %w", what, err)
}
