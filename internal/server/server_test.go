package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"buzzmaster/internal/config"
	"buzzmaster/internal/db"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A single connection keeps the in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(newTestDB(t), config.Default())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(ts.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func asID(t *testing.T, v any) uint {
	t.Helper()
	f, ok := v.(float64)
	if !ok {
		t.Fatalf("expected numeric id, got %T (%v)", v, v)
	}
	return uint(f)
}

func createUser(t *testing.T, ts *httptest.Server, externalID, name string) uint {
	t.Helper()
	status, body := postJSON(t, ts, "/api/users", map[string]any{
		"external_id": externalID,
		"name":        name,
	})
	if status != http.StatusOK {
		t.Fatalf("create user %s: status %d body %v", externalID, status, body)
	}
	return asID(t, body["id"])
}

// setupRoom creates a room and joins n freshly registered users.
func setupRoom(t *testing.T, ts *httptest.Server, n int) (string, []uint) {
	t.Helper()
	status, body := postJSON(t, ts, "/api/rooms", map[string]any{"name": "test room"})
	if status != http.StatusCreated {
		t.Fatalf("create room: status %d body %v", status, body)
	}
	code, _ := body["joinCode"].(string)
	if code == "" {
		t.Fatalf("room has no join code: %v", body)
	}
	users := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		id := createUser(t, ts, fmt.Sprintf("ext-%s-%d", code, i), fmt.Sprintf("player %d", i))
		status, body := postJSON(t, ts, "/api/rooms/"+code+"/join", map[string]any{"user_id": id})
		if status != http.StatusOK {
			t.Fatalf("join room: status %d body %v", status, body)
		}
		users = append(users, id)
	}
	return code, users
}

func startCompetition(t *testing.T, ts *httptest.Server, code string) uint {
	t.Helper()
	status, body := postJSON(t, ts, "/api/rooms/"+code+"/competitions", nil)
	if status != http.StatusCreated {
		t.Fatalf("start competition: status %d body %v", status, body)
	}
	return asID(t, body["id"])
}

func userScore(t *testing.T, srv *Server, userID uint) int {
	t.Helper()
	var user db.User
	if err := srv.db.First(&user, userID).Error; err != nil {
		t.Fatalf("load user %d: %v", userID, err)
	}
	return user.Score
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	status, body := getJSON(t, ts, "/health")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if _, ok := body["clients"]; !ok {
		t.Errorf("missing clients field: %v", body)
	}
}

func TestUpsertUserIdempotent(t *testing.T) {
	_, ts := newTestServer(t)
	first := createUser(t, ts, "ext-1", "Alice")
	status, body := postJSON(t, ts, "/api/users", map[string]any{
		"external_id": "ext-1",
		"name":        "Alice Updated",
	})
	if status != http.StatusOK {
		t.Fatalf("second upsert: status %d", status)
	}
	if got := asID(t, body["id"]); got != first {
		t.Errorf("second upsert returned id %d, want %d", got, first)
	}
	if body["name"] != "Alice Updated" {
		t.Errorf("name = %v, want Alice Updated", body["name"])
	}
}

func TestJoinRoomTwiceConflicts(t *testing.T) {
	_, ts := newTestServer(t)
	code, users := setupRoom(t, ts, 1)
	status, body := postJSON(t, ts, "/api/rooms/"+code+"/join", map[string]any{"user_id": users[0]})
	if status != http.StatusConflict {
		t.Fatalf("rejoin: status %d body %v, want 409", status, body)
	}
}

func TestGetRoomUnknownCode(t *testing.T) {
	_, ts := newTestServer(t)
	status, _ := getJSON(t, ts, "/api/rooms/ZZZZZZ")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestRoomQRServesPNG(t *testing.T) {
	_, ts := newTestServer(t)
	code, _ := setupRoom(t, ts, 1)
	resp, err := http.Get(ts.URL + "/api/rooms/" + code + "/qr")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q, want image/png", ct)
	}
}

func TestAdminKeyGuardsAdminEndpoints(t *testing.T) {
	cfg := config.Default()
	cfg.AdminKey = "sekret"
	srv := New(newTestDB(t), cfg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	status, _ := postJSON(t, ts, "/api/rooms", map[string]any{"name": "locked"})
	if status != http.StatusUnauthorized {
		t.Fatalf("no key: status %d, want 401", status)
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]any{"name": "locked"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/rooms", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", "sekret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("with key: status %d, want 201", resp.StatusCode)
	}
}

func TestStartCompetitionEndsPrevious(t *testing.T) {
	srv, ts := newTestServer(t)
	code, _ := setupRoom(t, ts, 1)
	first := startCompetition(t, ts, code)
	second := startCompetition(t, ts, code)
	if first == second {
		t.Fatalf("expected a new competition id")
	}
	var old db.Competition
	if err := srv.db.First(&old, first).Error; err != nil {
		t.Fatal(err)
	}
	if old.Status != competitionEnded {
		t.Errorf("first competition status = %q, want ended", old.Status)
	}
}

func TestRoomEventsRefetch(t *testing.T) {
	_, ts := newTestServer(t)
	code, _ := setupRoom(t, ts, 2)
	competitionID := startCompetition(t, ts, code)
	status, body := postJSON(t, ts, fmt.Sprintf("/api/competitions/%d/rounds", competitionID), nil)
	if status != http.StatusCreated {
		t.Fatalf("start round: status %d body %v", status, body)
	}

	status, body = getJSON(t, ts, "/api/rooms/"+code+"/events")
	if status != http.StatusOK {
		t.Fatalf("events: status %d", status)
	}
	events, ok := body["events"].([]any)
	if !ok || len(events) == 0 {
		t.Fatalf("expected persisted events, got %v", body)
	}
	found := false
	for _, raw := range events {
		event, _ := raw.(map[string]any)
		if event["type"] == "round:started" {
			found = true
		}
	}
	if !found {
		t.Errorf("round:started not in persisted events")
	}
}
