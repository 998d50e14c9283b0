package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"market_maker/internal/core"
)

// SQLiteStore implements core.HistoryStore against a sqlite database.
// Every row is checksummed so a torn write surfaces as a read-time
// error rather than silently corrupted history.
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

	schema := `CREATE TABLE IF NOT EXISTS trade_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		ts_unix_nano INTEGER NOT NULL,
		balance TEXT NOT NULL,
		price TEXT NOT NULL,
		ratio TEXT NOT NULL,
		checksum BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create trade_history table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_trade_history_ts ON trade_history(ts_unix_nano)`); err != nil {
		return nil, fmt.Errorf("failed to create trade_history index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

type tradeRow struct {
	Timestamp int64  `json:"ts"`
	Balance   string `json:"balance"`
	Price     string `json:"price"`
	Ratio     string `json:"ratio"`
}

func (s *SQLiteStore) Append(ctx context.Context, rec core.TradeRecord) error {
	row := tradeRow{
		Timestamp: rec.Timestamp.UnixNano(),
		Balance:   rec.Balance.String(),
		Price:     rec.Price.String(),
		Ratio:     rec.Ratio.String(),
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal trade record: %w", err)
	}
	checksum := sha256.Sum256(data)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastTS sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(ts_unix_nano) FROM trade_history`).Scan(&lastTS); err != nil {
		return fmt.Errorf("failed to read last timestamp: %w", err)
	}
	if lastTS.Valid && row.Timestamp < lastTS.Int64 {
		return core.NewError(core.KindInvariantViolated, "history.Append", core.ErrInvalidPrice)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trade_history (ts_unix_nano, balance, price, ratio, checksum) VALUES (?, ?, ?, ?, ?)`,
		row.Timestamp, row.Balance, row.Price, row.Ratio, checksum[:])
	if err != nil {
		return fmt.Errorf("failed to insert trade record: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Range(ctx context.Context, from, to time.Time) ([]core.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_unix_nano, balance, price, ratio, checksum FROM trade_history
		 WHERE ts_unix_nano >= ? AND ts_unix_nano <= ? ORDER BY ts_unix_nano ASC`,
		from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w", err)
	}
	defer rows.Close()

	var out []core.TradeRecord
	for rows.Next() {
		var (
			ts       int64
			balance  string
			price    string
			ratio    string
			checksum []byte
		)
		if err := rows.Scan(&ts, &balance, &price, &ratio, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}

		row := tradeRow{Timestamp: ts, Balance: balance, Price: price, Ratio: ratio}
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to re-marshal trade row for checksum: %w", err)
		}
		computed := sha256.Sum256(data)
		if len(checksum) != len(computed) || string(checksum) != string(computed[:]) {
			return nil, fmt.Errorf("checksum verification failed: trade history corruption detected at ts=%d", ts)
		}

		rec, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return out, nil
}

func rowToRecord(row tradeRow) (core.TradeRecord, error) {
	balance, err := parseDecimal(row.Balance)
	if err != nil {
		return core.TradeRecord{}, fmt.Errorf("invalid stored balance: %w", err)
	}
	price, err := parseDecimal(row.Price)
	if err != nil {
		return core.TradeRecord{}, fmt.Errorf("invalid stored price: %w", err)
	}
	ratio, err := parseDecimal(row.Ratio)
	if err != nil {
		return core.TradeRecord{}, fmt.Errorf("invalid stored ratio: %w", err)
	}
	return core.TradeRecord{
		Timestamp: time.Unix(0, row.Timestamp).UTC(),
		Balance:   balance,
		Price:     price,
		Ratio:     ratio,
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
