package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorageService implements StorageService using SQLite
type SQLiteStorageService struct {
	db       *sql.DB
	dbPath   string
	prepared map[string]*sql.Stmt
}

// NewSQLiteStorageService creates a new SQLite storage service
func NewSQLiteStorageService(dbPath string) *SQLiteStorageService {
	return &SQLiteStorageService{
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}
}

// Initialize sets up the database connection and creates necessary tables
func (s *SQLiteStorageService) Initialize(ctx context.Context) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	s.db = db

	s.db.SetMaxOpenConns(10)
	s.db.SetMaxIdleConns(5)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		return fmt.Errorf("failed to prepare statements: %w", err)
	}

	return nil
}

// createTables creates the necessary database tables
func (s *SQLiteStorageService) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS game_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		outcome TEXT NOT NULL,
		questions_asked INTEGER NOT NULL,
		final_guess TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '[]',
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_game_records_ended_at ON game_records(ended_at);
	CREATE INDEX IF NOT EXISTS idx_game_records_outcome ON game_records(outcome);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// prepareStatements prepares frequently used SQL statements
func (s *SQLiteStorageService) prepareStatements() error {
	statements := map[string]string{
		"upsert_game": `
			INSERT INTO game_records (session_id, provider, outcome, questions_asked, final_guess, transcript, started_at, ended_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				provider = excluded.provider,
				outcome = excluded.outcome,
				questions_asked = excluded.questions_asked,
				final_guess = excluded.final_guess,
				transcript = excluded.transcript,
				started_at = excluded.started_at,
				ended_at = excluded.ended_at
		`,
		"get_game": `
			SELECT ` + gameRecordColumns + `
			FROM game_records
			WHERE session_id = ?
		`,
		"list_recent_games": `
			SELECT ` + gameRecordColumns + `
			FROM game_records
			ORDER BY ended_at DESC, id DESC
			LIMIT ?
		`,
		"get_all_games": `
			SELECT ` + gameRecordColumns + `
			FROM game_records
			ORDER BY id
		`,
		"stats":             statsQuery,
		"stats_by_provider": statsByProviderQuery,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorageService) Close() error {
	for _, stmt := range s.prepared {
		if stmt != nil {
			stmt.Close()
		}
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveGameRecord inserts or replaces the record of a session
func (s *SQLiteStorageService) SaveGameRecord(ctx context.Context, record *GameRecord) error {
	stmt := s.prepared["upsert_game"]
	if stmt == nil {
		return fmt.Errorf("upsert_game statement not prepared")
	}

	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	if record.Transcript == "" {
		record.Transcript = "[]"
	}

	_, err := stmt.ExecContext(ctx,
		record.SessionID,
		record.Provider,
		record.Outcome,
		record.QuestionsAsked,
		record.FinalGuess,
		record.Transcript,
		record.StartedAt,
		record.EndedAt,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save game record: %w", err)
	}
	return nil
}

// GetGameRecord retrieves the record of a session
func (s *SQLiteStorageService) GetGameRecord(ctx context.Context, sessionID string) (*GameRecord, error) {
	stmt := s.prepared["get_game"]
	if stmt == nil {
		return nil, fmt.Errorf("get_game statement not prepared")
	}

	record, err := scanGameRecord(stmt.QueryRowContext(ctx, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No record found, not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game record: %w", err)
	}
	return record, nil
}

// ListRecentGames returns up to limit records, most recently ended first
func (s *SQLiteStorageService) ListRecentGames(ctx context.Context, limit int) ([]*GameRecord, error) {
	stmt := s.prepared["list_recent_games"]
	if stmt == nil {
		return nil, fmt.Errorf("list_recent_games statement not prepared")
	}
	return queryGameRecords(ctx, stmt, limit)
}

// GetAllGameRecords retrieves every record ordered by insertion
func (s *SQLiteStorageService) GetAllGameRecords(ctx context.Context) ([]*GameRecord, error) {
	stmt := s.prepared["get_all_games"]
	if stmt == nil {
		return nil, fmt.Errorf("get_all_games statement not prepared")
	}
	return queryGameRecords(ctx, stmt)
}

// GetGameStats aggregates outcomes over all records
func (s *SQLiteStorageService) GetGameStats(ctx context.Context) (*GameStats, error) {
	return queryGameStats(ctx, s.prepared["stats"], s.prepared["stats_by_provider"])
}

// HealthCheck verifies that the database connection is working
func (s *SQLiteStorageService) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Test query to ensure tables exist
	if _, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM game_records LIMIT 1"); err != nil {
		return fmt.Errorf("database health check query failed: %w", err)
	}

	return nil
}

// queryGameRecords runs a prepared select returning full game rows
func queryGameRecords(ctx context.Context, stmt *sql.Stmt, args ...any) ([]*GameRecord, error) {
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query game records: %w", err)
	}
	defer rows.Close()

	var records []*GameRecord
	for rows.Next() {
		record, err := scanGameRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// queryGameStats runs the portable aggregate statements
func queryGameStats(ctx context.Context, statsStmt, byProviderStmt *sql.Stmt) (*GameStats, error) {
	if statsStmt == nil || byProviderStmt == nil {
		return nil, fmt.Errorf("stats statements not prepared")
	}

	stats := &GameStats{GamesByProvider: make(map[string]int)}
	err := statsStmt.QueryRowContext(ctx).Scan(
		&stats.TotalGames,
		&stats.FoundGames,
		&stats.AbandonedGames,
		&stats.AverageQuestionsToFind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query game stats: %w", err)
	}

	rows, err := byProviderStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider string
		var count int
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, fmt.Errorf("failed to scan provider stats: %w", err)
		}
		stats.GamesByProvider[provider] = count
	}

	return stats, rows.Err()
}
