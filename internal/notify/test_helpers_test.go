package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustNotificationID(t *testing.T, value string) NotificationID {
	t.Helper()
	id, err := NewNotificationID(value)
	if err != nil {
		t.Fatalf("unexpected notification id error: %v", err)
	}
	return id
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "notify.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&FeedSnapshot{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *FeedStore {
	t.Helper()
	store, err := NewFeedStore(FeedStoreConfig{Database: newTestDatabase(t)})
	if err != nil {
		t.Fatalf("failed to build feed store: %v", err)
	}
	return store
}

// stubSource serves a scripted feed and counts fetches. An optional
// gate channel blocks Fetch until released, for in-flight scenarios.
type stubSource struct {
	kind    SourceKind
	mu      sync.Mutex
	records []Notification
	err     error
	fetches int
	gate    chan struct{}
}

func (s *stubSource) Kind() SourceKind {
	return s.kind
}

func (s *stubSource) Fetch(ctx context.Context, _ UserID, _ time.Time) ([]Notification, error) {
	s.mu.Lock()
	s.fetches++
	records := make([]Notification, len(s.records))
	copy(records, s.records)
	err := s.err
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *stubSource) setRecords(records []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

func (s *stubSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *stubSource) setGate(gate chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

type engineDeps struct {
	store *FeedStore
	bus   *ActivityBus
}

func newTestEngineWith(t *testing.T, deps engineDeps, sources ...Source) *Engine {
	t.Helper()
	if deps.store == nil {
		deps.store = newTestStore(t)
	}
	if deps.bus == nil {
		deps.bus = NewActivityBus()
	}
	engine, err := NewEngine(EngineConfig{
		User:            mustUserID(t, "user-1"),
		Sources:         sources,
		Store:           deps.store,
		Bus:             deps.bus,
		RefreshInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engine
}

func newTestEngine(t *testing.T, sources ...Source) *Engine {
	t.Helper()
	return newTestEngineWith(t, engineDeps{}, sources...)
}

func startEngine(t *testing.T, engine *Engine) {
	t.Helper()
	engine.Start(context.Background())
	t.Cleanup(engine.Close)
	waitFor(t, "initial refresh to settle", func() bool { return !engine.Loading() })
}

// waitFor polls condition until it holds or the deadline passes.
func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func feedRecord(id string, createdAt int64) Notification {
	return Notification{
		ID:         id,
		Type:       TypeTask,
		Title:      fmt.Sprintf("record %s", id),
		Message:    fmt.Sprintf("message for %s", id),
		CreatedAtS: createdAt,
	}
}
