package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"heroline/internal/config"
	"heroline/internal/db"
	"heroline/internal/engine"
	"heroline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("hero-1")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := e.InitProfile(context.Background(), "hero-1"); err != nil {
		t.Fatalf("init profile: %v", err)
	}
	if err := e.Repo.UpsertRulesConfig(context.Background(), "hero-1", cfg); err != nil {
		t.Fatalf("seed rules config: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var body map[string]any
	decode(t, data, &body)
	if body["status"] != "ok" {
		t.Fatalf("health body: %s", data)
	}
}

func TestProfileEndpoint(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/profile", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var p ProfileResponse
	decode(t, data, &p)
	if p.UserID != "hero-1" || p.Level != 1 || p.Health != 100 || p.MaxHealth != 100 {
		t.Fatalf("profile: %+v", p)
	}
}

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)

	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{
		"title":    "Write report",
		"priority": "medium",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var task TaskResponse
	decode(t, data, &task)
	if task.ID == "" || task.Title != "Write report" {
		t.Fatalf("created task: %+v", task)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/tasks/"+task.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks/"+task.ID+"/complete", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, data)
	}
	var completion CompletionResponse
	decode(t, data, &completion)
	if !completion.OnTime || completion.ExperienceDelta != 35 {
		t.Fatalf("completion: %+v", completion)
	}
	if completion.AlreadyCompleted {
		t.Fatalf("first completion flagged as repeat")
	}

	// Completing again is a 200 no-op.
	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks/"+task.ID+"/complete", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("repeat complete status %d: %s", res.StatusCode, data)
	}
	decode(t, data, &completion)
	if !completion.AlreadyCompleted {
		t.Fatalf("repeat completion not flagged: %+v", completion)
	}
	if completion.Profile.Experience != 35 {
		t.Fatalf("repeat completion changed the profile: %+v", completion.Profile)
	}

	// Deleting a completed task costs nothing.
	res, data = doJSON(t, ts.client, http.MethodDelete, ts.URL+"/v0/tasks/"+task.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, data)
	}
	var deletion DeletionResponse
	decode(t, data, &deletion)
	if deletion.Damage != 0 || deletion.Profile.Health != 100 {
		t.Fatalf("deletion of completed task: %+v", deletion)
	}
}

func TestDeleteActiveTaskAppliesDamage(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{
		"title":    "Abandon me",
		"priority": "high",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var task TaskResponse
	decode(t, data, &task)

	res, data = doJSON(t, ts.client, http.MethodDelete, ts.URL+"/v0/tasks/"+task.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, data)
	}
	var deletion DeletionResponse
	decode(t, data, &deletion)
	if deletion.Damage != 20 || deletion.Profile.Health != 80 {
		t.Fatalf("deletion: %+v", deletion)
	}
}

func TestTaskQueryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []map[string]any{
		{"title": "Write report", "priority": "high", "category": "work"},
		{"title": "Review report", "priority": "medium", "category": "work"},
		{"title": "Buy groceries", "priority": "low", "category": "home"},
	} {
		res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", body)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create status %d: %s", res.StatusCode, data)
		}
	}

	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/tasks?q=report&status=active", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query status %d: %s", res.StatusCode, data)
	}
	var page TaskPageResponse
	decode(t, data, &page)
	if page.FilteredCount != 2 || page.Page != 1 {
		t.Fatalf("query page: %+v", page)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/tasks?category=home", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query status %d: %s", res.StatusCode, data)
	}
	decode(t, data, &page)
	if page.FilteredCount != 1 || page.Items[0].Title != "Buy groceries" {
		t.Fatalf("category query: %+v", page)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/tasks?status=bogus", nil)
	if res.StatusCode == http.StatusOK {
		t.Fatalf("invalid status filter accepted: %s", data)
	}
}

func TestTaskNotFound(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/tasks/nope", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks/nope/complete", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("complete status %d: %s", res.StatusCode, data)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{
		"title": "   ",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank title status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{
		"title":    "Bad due",
		"due_date": "not-a-date",
	})
	if res.StatusCode == http.StatusCreated {
		t.Fatalf("invalid due date accepted: %s", data)
	}
}
