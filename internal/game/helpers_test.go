package game

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
	"github.com/Origanire/netfilm-backend/internal/service"
	"github.com/Origanire/netfilm-backend/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedReply struct {
	text string
	err  error
}

type providerCall struct {
	history []dialogue.Turn
	prompt  string
}

// scriptedProvider replays a fixed list of replies. When gate is set every
// call signals entered and then waits for gate before replying.
type scriptedProvider struct {
	name string

	mu      sync.Mutex
	replies []scriptedReply
	calls   []providerCall

	entered chan struct{}
	gate    chan struct{}
}

func newScriptedProvider(replies ...scriptedReply) *scriptedProvider {
	return &scriptedProvider{name: "stub", replies: replies}
}

func question(text string) scriptedReply { return scriptedReply{text: "QUESTION: " + text} }
func guess(text string) scriptedReply    { return scriptedReply{text: "GUESS: " + text} }
func failure(kind service.ErrorKind) scriptedReply {
	return scriptedReply{err: &service.ProviderError{Provider: "stub", Kind: kind}}
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Ask(ctx context.Context, history []dialogue.Turn, prompt string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, providerCall{history: history, prompt: prompt})
	var next scriptedReply
	if len(p.replies) > 0 {
		next = p.replies[0]
		p.replies = p.replies[1:]
	} else {
		next = scriptedReply{err: fmt.Errorf("script exhausted: %w", &service.ProviderError{Provider: p.name, Kind: service.KindUnavailable})}
	}
	entered, gate := p.entered, p.gate
	p.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return next.text, next.err
}

func (p *scriptedProvider) push(replies ...scriptedReply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *scriptedProvider) lastCall() providerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

// block makes subsequent calls wait for release
func (p *scriptedProvider) block() (entered <-chan struct{}, release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entered = make(chan struct{}, 1)
	p.gate = make(chan struct{})
	gate := p.gate
	return p.entered, func() { close(gate) }
}

// memoryStore is an in-memory StorageService
type memoryStore struct {
	mu        sync.Mutex
	records   map[string]*storage.GameRecord
	lastLimit int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*storage.GameRecord)}
}

func (m *memoryStore) Initialize(context.Context) error { return nil }
func (m *memoryStore) Close() error                     { return nil }
func (m *memoryStore) HealthCheck(context.Context) error {
	return nil
}

func (m *memoryStore) SaveGameRecord(_ context.Context, record *storage.GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.records[record.SessionID] = &copied
	return nil
}

func (m *memoryStore) GetGameRecord(_ context.Context, sessionID string) (*storage.GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[sessionID], nil
}

func (m *memoryStore) ListRecentGames(ctx context.Context, limit int) ([]*storage.GameRecord, error) {
	records, _ := m.GetAllGameRecords(ctx)
	sort.Slice(records, func(i, j int) bool {
		if records[i].EndedAt != records[j].EndedAt {
			return records[i].EndedAt > records[j].EndedAt
		}
		return records[i].SessionID < records[j].SessionID
	})

	m.mu.Lock()
	m.lastLimit = limit
	m.mu.Unlock()
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *memoryStore) GetAllGameRecords(context.Context) ([]*storage.GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storage.GameRecord
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryStore) GetGameStats(context.Context) (*storage.GameStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &storage.GameStats{GamesByProvider: make(map[string]int)}
	for _, r := range m.records {
		stats.TotalGames++
		stats.GamesByProvider[r.Provider]++
		if r.Outcome == storage.OutcomeFound {
			stats.FoundGames++
		} else {
			stats.AbandonedGames++
		}
	}
	return stats, nil
}

func (m *memoryStore) record(sessionID string) *storage.GameRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[sessionID]
}

type engineOption func(*Config)

func newTestEngine(t *testing.T, store storage.StorageService, providers []service.Provider, opts ...engineOption) *Engine {
	t.Helper()
	cfg := Config{
		MaxRetries:           2,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := NewRegistry(time.Hour, time.Minute, testLogger())
	return NewEngine(cfg, registry, service.NewStaticFactory(providers...), store, nil, testLogger())
}

// inceptionScript asks seven questions and guesses Inception on the seventh answer
func inceptionScript() []scriptedReply {
	return []scriptedReply{
		question("Is it an action movie?"),
		question("Was it released after 2000?"),
		question("Is it American?"),
		question("Is it directed by Christopher Nolan?"),
		question("Does it involve dreams?"),
		question("Is Leonardo DiCaprio in it?"),
		question("Is there a spinning top?"),
		guess("Inception"),
	}
}
