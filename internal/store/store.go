package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Writer performs the ticket writes that must share one transaction
type Writer interface {
	UpsertProduct(ctx context.Context, p *models.ProductUpsert) (*models.Product, error)
	InsertPurchase(ctx context.Context, p *models.Purchase) error
	InsertLineItem(ctx context.Context, item *models.PurchaseLineItem) (int64, error)
	InsertDocument(ctx context.Context, doc *models.PurchaseDocument) error
}

// Repository is the persistence contract used by the ticket services.
// Readers return nil without error when the row does not exist.
type Repository interface {
	GetPurchase(ctx context.Context, invoice string) (*models.Purchase, error)
	GetProduct(ctx context.Context, name string) (*models.Product, error)
	GetLineItems(ctx context.Context, invoice string) ([]models.PurchaseLineItem, error)
	GetDocument(ctx context.Context, invoice string) (*models.PurchaseDocument, error)
	TicketHistory(ctx context.Context, userEmail string, limit, offset int) ([]models.TicketHistoryItem, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	// WithTx runs fn inside one transaction. The transaction commits only
	// when fn returns nil; any error or panic rolls it back.
	WithTx(ctx context.Context, fn func(Writer) error) error

	Ping(ctx context.Context) error
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an already opened connection pool
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction
func (s *Store) WithTx(ctx context.Context, fn func(Writer) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.FromStore(err, "begin")
	}
	defer tx.Rollback()

	if err := fn(&txWriter{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.FromStore(err, "commit")
	}
	return nil
}

// txWriter issues writes on an open transaction
type txWriter struct {
	tx *sqlx.Tx
}
