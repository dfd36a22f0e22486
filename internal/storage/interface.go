package storage

import (
	"context"
)

const (
	OutcomeFound     = "found"
	OutcomeAbandoned = "abandoned"
)

// GameRecord is the persisted summary of a finished game
type GameRecord struct {
	ID             int64  `db:"id"`              // Primary key, auto-increment
	SessionID      string `db:"session_id"`      // Engine session id (unique)
	Provider       string `db:"provider"`        // Provider selector used for the game
	Outcome        string `db:"outcome"`         // found or abandoned
	QuestionsAsked int    `db:"questions_asked"` // Questions emitted before the game ended
	FinalGuess     string `db:"final_guess"`     // Accepted or last pending guess, may be empty
	Transcript     string `db:"transcript"`      // JSON encoded retained turns
	StartedAt      int64  `db:"started_at"`      // Unix timestamp of the start event
	EndedAt        int64  `db:"ended_at"`        // Unix timestamp of the terminal transition
	CreatedAt      int64  `db:"created_at"`      // Record creation timestamp
}

// GameStats aggregates the persisted games
type GameStats struct {
	TotalGames             int            `json:"total_games"`
	FoundGames             int            `json:"games_found"`
	AbandonedGames         int            `json:"games_abandoned"`
	AverageQuestionsToFind float64        `json:"average_questions_to_find"`
	GamesByProvider        map[string]int `json:"games_by_provider"`
}

// StorageService defines the interface for game persistence operations
type StorageService interface {
	// Initialize sets up the database connection and creates necessary tables
	Initialize(ctx context.Context) error

	// Close closes the database connection
	Close() error

	// SaveGameRecord inserts a record, replacing any record with the same session id
	SaveGameRecord(ctx context.Context, record *GameRecord) error

	// GetGameRecord retrieves the record of a session, or nil if there is none
	GetGameRecord(ctx context.Context, sessionID string) (*GameRecord, error)

	// ListRecentGames returns the most recently ended games first
	ListRecentGames(ctx context.Context, limit int) ([]*GameRecord, error)

	// GetAllGameRecords retrieves every record for migration purposes
	GetAllGameRecords(ctx context.Context) ([]*GameRecord, error)

	// GetGameStats aggregates outcomes over all records
	GetGameStats(ctx context.Context) (*GameStats, error)

	// HealthCheck verifies that the database connection is working
	HealthCheck(ctx context.Context) error
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const gameRecordColumns = `id, session_id, provider, outcome, questions_asked, final_guess, transcript, started_at, ended_at, created_at`

func scanGameRecord(row rowScanner) (*GameRecord, error) {
	var record GameRecord
	err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.Provider,
		&record.Outcome,
		&record.QuestionsAsked,
		&record.FinalGuess,
		&record.Transcript,
		&record.StartedAt,
		&record.EndedAt,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Shared by both backends; the SQL is portable between SQLite and MySQL
const (
	statsQuery = `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'found' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'abandoned' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN outcome = 'found' THEN questions_asked END), 0)
		FROM game_records
	`
	statsByProviderQuery = `
		SELECT provider, COUNT(*)
		FROM game_records
		GROUP BY provider
	`
)
