package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// MigrationService copies game records between two storage backends,
// typically from the SQLite file into MySQL
type MigrationService struct {
	source StorageService
	target StorageService
	logger *slog.Logger
}

// NewMigrationService creates a new migration service
func NewMigrationService(source, target StorageService, logger *slog.Logger) *MigrationService {
	return &MigrationService{
		source: source,
		target: target,
		logger: logger,
	}
}

// MigrateData copies every record from source to target. Records are keyed
// by session id, so running the migration twice does not duplicate them.
func (m *MigrationService) MigrateData(ctx context.Context) (int, error) {
	records, err := m.source.GetAllGameRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get source game records: %w", err)
	}

	if len(records) == 0 {
		m.logger.Info("No game records to migrate")
		return 0, nil
	}

	migrated := 0
	for _, record := range records {
		// Reset ID to allow target auto-increment
		record.ID = 0

		if err := m.target.SaveGameRecord(ctx, record); err != nil {
			return migrated, fmt.Errorf("failed to insert game record for session %s: %w", record.SessionID, err)
		}
		migrated++
	}

	m.logger.Info("Game records migrated", "count", migrated)
	return migrated, nil
}

// ValidateMigration compares record counts and outcome totals of both backends
func (m *MigrationService) ValidateMigration(ctx context.Context) error {
	sourceStats, err := m.source.GetGameStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get source stats for validation: %w", err)
	}

	targetStats, err := m.target.GetGameStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get target stats for validation: %w", err)
	}

	if targetStats.TotalGames < sourceStats.TotalGames {
		return fmt.Errorf("game records count mismatch: source=%d, target=%d", sourceStats.TotalGames, targetStats.TotalGames)
	}

	for provider, count := range sourceStats.GamesByProvider {
		if targetStats.GamesByProvider[provider] < count {
			return fmt.Errorf("provider %s count mismatch: source=%d, target=%d",
				provider, count, targetStats.GamesByProvider[provider])
		}
	}

	return nil
}
