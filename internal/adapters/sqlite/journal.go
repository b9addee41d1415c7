package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Journal implements the ports.TradeJournal interface using SQLite.
type Journal struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite journal.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewJournal creates a new SQLite journal instance.
func NewJournal(cfg Config) (*Journal, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite journal")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/margin_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	j := &Journal{db: db, logger: cfg.Logger}

	if err := j.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	return j, nil
}

// initializeSchema creates tables if they don't exist.
func (j *Journal) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		executed_qty REAL NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		close_reason TEXT DEFAULT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_symbol_opened_at ON entries (symbol, opened_at);
	`
	_, err := j.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		j.logger.Info(context.Background(), "Closing SQLite database connection")
		return j.db.Close()
	}
	return nil
}

// RecordOpen saves a new entry record and returns its assigned ID.
func (j *Journal) RecordOpen(ctx context.Context, rec *ports.EntryRecord) (int64, error) {
	const query = `
	INSERT INTO entries (symbol, side, entry_price, executed_qty, opened_at)
	VALUES (?, ?, ?, ?, ?)`

	result, err := j.db.ExecContext(ctx, query,
		rec.Symbol, string(rec.Side), rec.EntryPrice, rec.ExecutedQty, rec.OpenedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert entry for symbol %s: %w", rec.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for entry %s: %w", rec.Symbol, err)
	}
	rec.ID = id
	j.logger.Debug(ctx, "Journal entry created", map[string]interface{}{"entryID": id, "symbol": rec.Symbol, "side": string(rec.Side)})
	return id, nil
}

// RecordClose marks the most recent still-open entry for the symbol closed.
// Closing with no open entry is not an error: externally opened positions
// have nothing journaled.
func (j *Journal) RecordClose(ctx context.Context, symbol, reason string, at time.Time) error {
	const query = `
	UPDATE entries SET closed_at = ?, close_reason = ?
	WHERE id = (
		SELECT id FROM entries
		WHERE symbol = ? AND closed_at IS NULL
		ORDER BY opened_at DESC LIMIT 1
	)`

	result, err := j.db.ExecContext(ctx, query, at, reason, symbol)
	if err != nil {
		return fmt.Errorf("failed to close entry for symbol %s: %w", symbol, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected closing entry for symbol %s: %w", symbol, err)
	}
	if rowsAffected == 0 {
		j.logger.Debug(ctx, "No open journal entry to close", map[string]interface{}{"symbol": symbol, "reason": reason})
		return nil
	}
	j.logger.Debug(ctx, "Journal entry closed", map[string]interface{}{"symbol": symbol, "reason": reason})
	return nil
}

// RecentBySymbol retrieves the most recent entries for a symbol, up to a limit.
func (j *Journal) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]*ports.EntryRecord, error) {
	const query = `
	SELECT id, symbol, side, entry_price, executed_qty, opened_at, closed_at, close_reason
	FROM entries
	WHERE symbol = ? ORDER BY opened_at DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	entries := make([]*ports.EntryRecord, 0)
	for rows.Next() {
		rec, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry during RecentBySymbol: %w", err)
		}
		entries = append(entries, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry rows: %w", err)
	}
	return entries, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry scans a row into a ports.EntryRecord struct.
func scanEntry(s scanner) (*ports.EntryRecord, error) {
	rec := &ports.EntryRecord{}
	var side string
	var closedAt sql.NullTime
	var closeReason sql.NullString
	err := s.Scan(
		&rec.ID, &rec.Symbol, &side, &rec.EntryPrice, &rec.ExecutedQty,
		&rec.OpenedAt, &closedAt, &closeReason)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	rec.Side = domain.SignalKind(side)
	if closedAt.Valid {
		rec.ClosedAt = closedAt.Time
	}
	if closeReason.Valid {
		rec.CloseReason = closeReason.String
	}
	return rec, nil
}
