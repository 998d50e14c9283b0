package pivotstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"market_maker/internal/core"
)

// SQLiteStore persists the pivot scalar in a single-row table, the
// same checksum-on-write/verify-on-read shape as history.SQLiteStore.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS pivot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		value TEXT NOT NULL,
		checksum BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create pivot table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context) (decimal.Decimal, error) {
	var value string
	var checksum []byte
	err := s.db.QueryRowContext(ctx, `SELECT value, checksum FROM pivot WHERE id = 1`).Scan(&value, &checksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, core.NewError(core.KindNotInitialized, "pivotstore.Get", core.ErrNotInitialized)
		}
		return decimal.Zero, fmt.Errorf("failed to read pivot: %w", err)
	}

	computed := sha256.Sum256([]byte(value))
	if len(checksum) != len(computed) || string(checksum) != string(computed[:]) {
		return decimal.Zero, fmt.Errorf("checksum verification failed: pivot row corruption detected")
	}

	pivot, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse stored pivot: %w", err)
	}
	return pivot, nil
}

func (s *SQLiteStore) Set(ctx context.Context, pivot decimal.Decimal) error {
	value := pivot.String()
	checksum := sha256.Sum256([]byte(value))

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO pivot (id, value, checksum) VALUES (1, ?, ?)`, value, checksum[:])
	if err != nil {
		return fmt.Errorf("failed to write pivot: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
