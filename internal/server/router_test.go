package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MeridianCRM/pulse/backend/internal/auth"
	"github.com/MeridianCRM/pulse/backend/internal/notify"
)

type staticTokenManager struct {
	subjects map[string]string
}

func (m *staticTokenManager) ValidateToken(token string) (string, error) {
	subject, ok := m.subjects[token]
	if !ok {
		return "", fmt.Errorf("unknown token")
	}
	return subject, nil
}

type passthroughResolver struct{}

func (passthroughResolver) ResolveCanonicalUserID(claims auth.SessionClaims) (string, error) {
	return claims.Subject, nil
}

type fixedSource struct {
	kind    notify.SourceKind
	records []notify.Notification
}

func (s *fixedSource) Kind() notify.SourceKind { return s.kind }

func (s *fixedSource) Fetch(context.Context, notify.UserID, time.Time) ([]notify.Notification, error) {
	records := make([]notify.Notification, len(s.records))
	copy(records, s.records)
	return records, nil
}

type routerFixture struct {
	handler http.Handler
	manager *notify.Manager
	bus     *notify.ActivityBus
}

func newRouterFixture(t *testing.T, records ...notify.Notification) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(t.TempDir(), "server.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&notify.FeedSnapshot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := notify.NewFeedStore(notify.FeedStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	bus := notify.NewActivityBus()
	manager, err := notify.NewManager(context.Background(), notify.ManagerConfig{
		Sources:         []notify.Source{&fixedSource{kind: notify.SourceKindTask, records: records}},
		Store:           store,
		Bus:             bus,
		RefreshInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	t.Cleanup(manager.Close)

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: &staticTokenManager{subjects: map[string]string{"valid-token": "user-1"}},
		Identities:   passthroughResolver{},
		FeedManager:  manager,
		ActivityBus:  bus,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &routerFixture{handler: handler, manager: manager, bus: bus}
}

func (f *routerFixture) request(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

// waitForFeed polls until the feed endpoint reports a settled feed of
// the wanted size. The engine's initial cycle runs in the background, so
// the first list request can race it.
func (f *routerFixture) waitForFeed(t *testing.T, token string, want int) feedResponsePayload {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var payload feedResponsePayload
	for time.Now().Before(deadline) {
		recorder := f.request(t, http.MethodGet, "/notifications", token, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("list returned status %d: %s", recorder.Code, recorder.Body.String())
		}
		payload = feedResponsePayload{}
		if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode feed payload: %v", err)
		}
		if !payload.Loading && len(payload.Notifications) == want {
			return payload
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("feed never settled at %d records, last payload: %+v", want, payload)
	return payload
}

func taskNotification(id string, createdAt int64) notify.Notification {
	return notify.Notification{
		ID:         id,
		Type:       notify.TypeTask,
		Title:      "Task " + id,
		Message:    "message",
		CreatedAtS: createdAt,
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	fixture := newRouterFixture(t)
	recorder := fixture.request(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRejectMissingOrInvalidTokens(t *testing.T) {
	fixture := newRouterFixture(t)

	if recorder := fixture.request(t, http.MethodGet, "/notifications", "", nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
	if recorder := fixture.request(t, http.MethodGet, "/notifications", "wrong-token", nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", recorder.Code)
	}
}

func TestListNotificationsReturnsFeed(t *testing.T) {
	fixture := newRouterFixture(t,
		taskNotification("task-1", 100),
		taskNotification("task-2", 200),
	)

	payload := fixture.waitForFeed(t, "valid-token", 2)
	if payload.UnreadCount != 2 {
		t.Fatalf("expected unread count 2, got %d", payload.UnreadCount)
	}
	if payload.Notifications[0].ID != "task-2" {
		t.Fatalf("expected newest first, got %q", payload.Notifications[0].ID)
	}
}

func TestMarkAsReadUpdatesUnreadCount(t *testing.T) {
	fixture := newRouterFixture(t, taskNotification("task-1", 100))
	fixture.waitForFeed(t, "valid-token", 1)

	recorder := fixture.request(t, http.MethodPost, "/notifications/task-1/read", "valid-token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.request(t, http.MethodGet, "/notifications/unread-count", "valid-token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var counts struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &counts); err != nil {
		t.Fatalf("failed to decode count payload: %v", err)
	}
	if counts.UnreadCount != 0 {
		t.Fatalf("expected unread count 0, got %d", counts.UnreadCount)
	}
}

func TestMutationOnUnknownIDSucceeds(t *testing.T) {
	fixture := newRouterFixture(t, taskNotification("task-1", 100))
	fixture.waitForFeed(t, "valid-token", 1)

	recorder := fixture.request(t, http.MethodPost, "/notifications/task-404/read", "valid-token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected silent no-op 200, got %d", recorder.Code)
	}
}

func TestMutationRejectsMalformedID(t *testing.T) {
	fixture := newRouterFixture(t, taskNotification("task-1", 100))
	fixture.waitForFeed(t, "valid-token", 1)

	recorder := fixture.request(t, http.MethodPost, "/notifications/%20/read", "valid-token", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank id, got %d", recorder.Code)
	}
}

func TestArchiveAndRemoveNotifications(t *testing.T) {
	fixture := newRouterFixture(t,
		taskNotification("task-1", 100),
		taskNotification("task-2", 200),
	)
	fixture.waitForFeed(t, "valid-token", 2)

	recorder := fixture.request(t, http.MethodPost, "/notifications/task-1/archive", "valid-token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("archive returned %d", recorder.Code)
	}
	recorder = fixture.request(t, http.MethodDelete, "/notifications/task-2", "valid-token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("remove returned %d", recorder.Code)
	}

	payload := fixture.waitForFeed(t, "valid-token", 1)
	if !payload.Notifications[0].Archived {
		t.Fatalf("task-1 should be archived, got %+v", payload.Notifications[0])
	}
}

func TestRefreshEndpointAccepted(t *testing.T) {
	fixture := newRouterFixture(t, taskNotification("task-1", 100))
	fixture.waitForFeed(t, "valid-token", 1)

	recorder := fixture.request(t, http.MethodPost, "/notifications/refresh", "valid-token", nil)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
}

func TestActivityCompletedInjectsNotification(t *testing.T) {
	fixture := newRouterFixture(t, taskNotification("task-1", 100))
	fixture.waitForFeed(t, "valid-token", 1)

	body, _ := json.Marshal(map[string]string{
		"title":     "Call with Acme",
		"timestamp": "2026-08-28T15:04:05Z",
	})
	recorder := fixture.request(t, http.MethodPost, "/activities/completed", "valid-token", body)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	payload := fixture.waitForFeed(t, "valid-token", 2)
	if payload.Notifications[0].Type != notify.TypeActivity {
		t.Fatalf("expected injected activity first, got %+v", payload.Notifications[0])
	}
	if payload.Notifications[0].Title != "Call with Acme" {
		t.Fatalf("unexpected injected title %q", payload.Notifications[0].Title)
	}
}

func TestActivityCompletedRejectsBadPayloads(t *testing.T) {
	fixture := newRouterFixture(t, taskNotification("task-1", 100))
	fixture.waitForFeed(t, "valid-token", 1)

	noTitle, _ := json.Marshal(map[string]string{"timestamp": "2026-08-28T15:04:05Z"})
	if recorder := fixture.request(t, http.MethodPost, "/activities/completed", "valid-token", noTitle); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without title, got %d", recorder.Code)
	}

	badTimestamp, _ := json.Marshal(map[string]string{"title": "Call", "timestamp": "yesterday"})
	if recorder := fixture.request(t, http.MethodPost, "/activities/completed", "valid-token", badTimestamp); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timestamp, got %d", recorder.Code)
	}
}

func TestFeedsAreIsolatedPerUser(t *testing.T) {
	fixture := newRouterFixture(t, taskNotification("task-1", 100))
	fixture.waitForFeed(t, "valid-token", 1)

	recorder := fixture.request(t, http.MethodPost, "/notifications/task-1/read", "valid-token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("mark as read returned %d", recorder.Code)
	}

	// A second user sees the same upstream records but none of the
	// first user's flags.
	other := &staticTokenManager{subjects: map[string]string{"other-token": "user-2"}}
	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: other,
		Identities:   passthroughResolver{},
		FeedManager:  fixture.manager,
		ActivityBus:  fixture.bus,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	otherFixture := &routerFixture{handler: handler, manager: fixture.manager, bus: fixture.bus}

	payload := otherFixture.waitForFeed(t, "other-token", 1)
	if payload.Notifications[0].Read {
		t.Fatalf("user-2 should not inherit user-1's read flag")
	}
	if payload.UnreadCount != 1 {
		t.Fatalf("expected unread count 1 for user-2, got %d", payload.UnreadCount)
	}
}
