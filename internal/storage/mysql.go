package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStorageService implements StorageService using MySQL
type MySQLStorageService struct {
	db       *sql.DB
	dsn      string
	prepared map[string]*sql.Stmt
}

// MySQLConfig holds MySQL connection configuration
type MySQLConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Timeout  string
}

// NewMySQLStorageService creates a new MySQL storage service
func NewMySQLStorageService(config MySQLConfig) *MySQLStorageService {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&timeout=%s",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.Timeout,
	)

	return &MySQLStorageService{
		dsn:      dsn,
		prepared: make(map[string]*sql.Stmt),
	}
}

// connectWithRetry opens and pings the database with exponential backoff
func (s *MySQLStorageService) connectWithRetry(ctx context.Context) (*sql.DB, error) {
	const maxRetries = 4

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = 0

	attempt := 0
	var db *sql.DB
	err := backoff.Retry(func() error {
		attempt++
		conn, err := sql.Open("mysql", s.dsn)
		if err != nil {
			return fmt.Errorf("attempt %d: failed to open database: %w", attempt, err)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("attempt %d: failed to ping database: %w", attempt, err)
		}
		db = conn
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempt, err)
	}

	return db, nil
}

// isRetryableError checks if an error is retryable (network/connection issues)
func (s *MySQLStorageService) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	errStr := err.Error()
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"invalid connection",
		"broken pipe",
		"no such host",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}

// executeWithRetry executes a database operation with retry logic for connection failures
func (s *MySQLStorageService) executeWithRetry(ctx context.Context, operation func() error) error {
	const maxRetries = 2

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && !s.isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}

// Initialize sets up the database connection and creates necessary tables
func (s *MySQLStorageService) Initialize(ctx context.Context) error {
	db, err := s.connectWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to establish database connection: %w", err)
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
func (s *MySQLStorageService) createTables(ctx context.Context) error {
	schema := `CREATE TABLE IF NOT EXISTS game_records (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		session_id VARCHAR(64) NOT NULL,
		provider VARCHAR(32) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		questions_asked INT NOT NULL,
		final_guess VARCHAR(512) NOT NULL DEFAULT '',
		transcript MEDIUMTEXT NOT NULL,
		started_at BIGINT NOT NULL,
		ended_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE KEY unique_session_id (session_id),
		INDEX idx_game_records_ended_at (ended_at),
		INDEX idx_game_records_outcome (outcome)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema statement: %w", err)
	}
	return nil
}

// prepareStatements prepares frequently used SQL statements
func (s *MySQLStorageService) prepareStatements() error {
	statements := map[string]string{
		"upsert_game": `
			INSERT INTO game_records (session_id, provider, outcome, questions_asked, final_guess, transcript, started_at, ended_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			provider = VALUES(provider),
			outcome = VALUES(outcome),
			questions_asked = VALUES(questions_asked),
			final_guess = VALUES(final_guess),
			transcript = VALUES(transcript),
			started_at = VALUES(started_at),
			ended_at = VALUES(ended_at)
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
func (s *MySQLStorageService) Close() error {
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
func (s *MySQLStorageService) SaveGameRecord(ctx context.Context, record *GameRecord) error {
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

	err := s.executeWithRetry(ctx, func() error {
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
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save game record: %w", err)
	}
	return nil
}

// GetGameRecord retrieves the record of a session
func (s *MySQLStorageService) GetGameRecord(ctx context.Context, sessionID string) (*GameRecord, error) {
	stmt := s.prepared["get_game"]
	if stmt == nil {
		return nil, fmt.Errorf("get_game statement not prepared")
	}

	var record *GameRecord
	err := s.executeWithRetry(ctx, func() error {
		var err error
		record, err = scanGameRecord(stmt.QueryRowContext(ctx, sessionID))
		if errors.Is(err, sql.ErrNoRows) {
			record = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get game record: %w", err)
	}
	return record, nil
}

// ListRecentGames returns up to limit records, most recently ended first
func (s *MySQLStorageService) ListRecentGames(ctx context.Context, limit int) ([]*GameRecord, error) {
	stmt := s.prepared["list_recent_games"]
	if stmt == nil {
		return nil, fmt.Errorf("list_recent_games statement not prepared")
	}
	return queryGameRecords(ctx, stmt, limit)
}

// GetAllGameRecords retrieves every record ordered by insertion
func (s *MySQLStorageService) GetAllGameRecords(ctx context.Context) ([]*GameRecord, error) {
	stmt := s.prepared["get_all_games"]
	if stmt == nil {
		return nil, fmt.Errorf("get_all_games statement not prepared")
	}
	return queryGameRecords(ctx, stmt)
}

// GetGameStats aggregates outcomes over all records
func (s *MySQLStorageService) GetGameStats(ctx context.Context) (*GameStats, error) {
	return queryGameStats(ctx, s.prepared["stats"], s.prepared["stats_by_provider"])
}

// HealthCheck verifies that the database connection is working
func (s *MySQLStorageService) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM game_records LIMIT 1"); err != nil {
		return fmt.Errorf("database health check query failed: %w", err)
	}

	return nil
}
