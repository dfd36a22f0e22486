package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

func TestMySQLStorageService_Initialize(t *testing.T) {
	service := setupTestMySQLStorage(t)
	defer service.Close()

	err := service.HealthCheck(context.Background())
	assert.NoError(t, err)
}

func TestMySQLStorageService_SaveAndGetGameRecord(t *testing.T) {
	service := setupTestMySQLStorage(t)
	defer service.Close()
	ctx := context.Background()

	record := &GameRecord{
		SessionID:      "mysql-session",
		Provider:       "claude",
		Outcome:        OutcomeFound,
		QuestionsAsked: 7,
		FinalGuess:     "Inception",
		Transcript:     `[{"role":"questioner","kind":"guess","content":"Inception"}]`,
		StartedAt:      time.Now().Add(-time.Minute).Unix(),
		EndedAt:        time.Now().Unix(),
	}
	require.NoError(t, service.SaveGameRecord(ctx, record))

	retrieved, err := service.GetGameRecord(ctx, "mysql-session")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Greater(t, retrieved.ID, int64(0))
	assert.Equal(t, record.Outcome, retrieved.Outcome)
	assert.Equal(t, record.QuestionsAsked, retrieved.QuestionsAsked)
	assert.Equal(t, record.Transcript, retrieved.Transcript)

	missing, err := service.GetGameRecord(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	record.Outcome = OutcomeAbandoned
	require.NoError(t, service.SaveGameRecord(ctx, record))
	all, err := service.GetAllGameRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, OutcomeAbandoned, all[0].Outcome)
}

func TestMySQLStorageService_GetGameStats(t *testing.T) {
	service := setupTestMySQLStorage(t)
	defer service.Close()
	ctx := context.Background()

	records := []*GameRecord{
		{SessionID: "1", Provider: "openai", Outcome: OutcomeFound, QuestionsAsked: 5},
		{SessionID: "2", Provider: "openai", Outcome: OutcomeFound, QuestionsAsked: 9},
		{SessionID: "3", Provider: "gemini", Outcome: OutcomeAbandoned, QuestionsAsked: 2},
	}
	for _, r := range records {
		require.NoError(t, service.SaveGameRecord(ctx, r))
	}

	stats, err := service.GetGameStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalGames)
	assert.Equal(t, 2, stats.FoundGames)
	assert.Equal(t, 1, stats.AbandonedGames)
	assert.InDelta(t, 7.0, stats.AverageQuestionsToFind, 0.001)
	assert.Equal(t, 2, stats.GamesByProvider["openai"])

	recent, err := service.ListRecentGames(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestMySQLStorageService_IsRetryableError(t *testing.T) {
	service := NewMySQLStorageService(MySQLConfig{})

	assert.False(t, service.isRetryableError(nil))
	assert.False(t, service.isRetryableError(assert.AnError))
	assert.True(t, service.isRetryableError(errString("dial tcp: connection refused")))
	assert.True(t, service.isRetryableError(errString("invalid connection")))
	assert.False(t, service.isRetryableError(errString("Error 1062: Duplicate entry")))
}

type errString string

func (e errString) Error() string { return string(e) }

func setupTestMySQLStorage(t *testing.T) *MySQLStorageService {
	if testing.Short() {
		t.Skip("skipping MySQL container test in short mode")
	}
	ctx := context.Background()

	mysqlContainer, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("test"),
		mysql.WithUsername("root"),
		mysql.WithPassword("test"),
	)
	if err != nil {
		t.Fatalf("Failed to start MySQL container: %v", err)
	}

	t.Cleanup(func() {
		mysqlContainer.Terminate(ctx)
	})

	host, err := mysqlContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := mysqlContainer.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := MySQLConfig{
		Host:     host,
		Port:     port.Port(),
		Database: "test",
		Username: "root",
		Password: "test",
		Timeout:  "30s",
	}

	service := NewMySQLStorageService(config)
	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize MySQL storage: %v", err)
	}

	return service
}
