package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"tradedesk/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Commits land from concurrent goroutines
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Price-line commits
	CREATE TABLE IF NOT EXISTS commits (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL,
		position_id TEXT,
		level TEXT NOT NULL,
		target TEXT NOT NULL,
		price REAL NOT NULL,
		previous_price REAL,
		status TEXT NOT NULL,
		error TEXT,
		duration INTEGER,
		created_at DATETIME NOT NULL
	);

	-- Lot sizes keyed by lower(index)+strike
	CREATE TABLE IF NOT EXISTS lot_sizes (
		option_name TEXT PRIMARY KEY,
		lot_size INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Sync status
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commits_trade ON commits(trade_id);
	CREATE INDEX IF NOT EXISTS idx_commits_created ON commits(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Commit Journal
// ============================================================================

// RecordCommit appends a commit. A missing ID or timestamp is filled in.
func (s *SQLiteStore) RecordCommit(ctx context.Context, commit *Commit) error {
	if commit.ID == "" {
		commit.ID = uuid.NewString()
	}
	if commit.CreatedAt.IsZero() {
		commit.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commits (id, trade_id, position_id, level, target, price, previous_price, status, error, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, commit.ID, commit.TradeID, commit.PositionID, string(commit.Level), string(commit.Target), commit.Price, commit.PreviousPrice, string(commit.Status), commit.Error, commit.Duration.Nanoseconds(), commit.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record commit: %w", err)
	}
	return nil
}

// GetCommits returns commits newest first.
func (s *SQLiteStore) GetCommits(ctx context.Context, filter CommitFilter) ([]Commit, error) {
	query := "SELECT id, trade_id, position_id, level, target, price, previous_price, status, error, duration, created_at FROM commits WHERE 1=1"
	args := []interface{}{}

	if filter.TradeID != "" {
		query += " AND trade_id = ?"
		args = append(args, filter.TradeID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.StartDate.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commits: %w", err)
	}
	defer rows.Close()

	var commits []Commit
	for rows.Next() {
		var c Commit
		var positionID, errText sql.NullString
		var previous sql.NullFloat64
		var level, target, status string
		var durationNs int64

		if err := rows.Scan(&c.ID, &c.TradeID, &positionID, &level, &target, &c.Price, &previous, &status, &errText, &durationNs, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}

		c.PositionID = positionID.String
		c.Level = models.LevelKind(level)
		c.Target = CommitTarget(target)
		c.PreviousPrice = previous.Float64
		c.Status = CommitStatus(status)
		c.Error = errText.String
		c.Duration = time.Duration(durationNs)
		commits = append(commits, c)
	}

	return commits, rows.Err()
}

// ============================================================================
// Lot Sizes
// ============================================================================

// SaveLotSizes replaces the cached lot-size table.
func (s *SQLiteStore) SaveLotSizes(ctx context.Context, sizes []models.LotSize) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM lot_sizes"); err != nil {
		return fmt.Errorf("failed to clear lot sizes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO lot_sizes (option_name, lot_size, updated_at)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, ls := range sizes {
		if _, err := stmt.ExecContext(ctx, ls.OptionName, ls.LotSize, now); err != nil {
			return fmt.Errorf("failed to insert lot size: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetLotSizes returns the cached lot sizes ordered by key.
func (s *SQLiteStore) GetLotSizes(ctx context.Context) ([]models.LotSize, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT option_name, lot_size FROM lot_sizes ORDER BY option_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query lot sizes: %w", err)
	}
	defer rows.Close()

	var sizes []models.LotSize
	for rows.Next() {
		var ls models.LotSize
		if err := rows.Scan(&ls.OptionName, &ls.LotSize); err != nil {
			return nil, fmt.Errorf("failed to scan lot size: %w", err)
		}
		sizes = append(sizes, ls)
	}

	return sizes, rows.Err()
}

// ============================================================================
// Sync Tracking
// ============================================================================

// GetLastSync returns the last sync time for a data type, or the zero time.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

var _ DataStore = (*SQLiteStore)(nil)
