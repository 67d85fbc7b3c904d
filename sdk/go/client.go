package herolinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Heroline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Profile is the API character profile model.
type Profile struct {
	UserID                    string `json:"user_id"`
	Level                     int    `json:"level"`
	Health                    int    `json:"health"`
	MaxHealth                 int    `json:"max_health"`
	Stamina                   int    `json:"stamina"`
	MaxStamina                int    `json:"max_stamina"`
	Experience                int    `json:"experience"`
	TotalTasksCompleted       int    `json:"total_tasks_completed"`
	ConsecutiveTasksCompleted int    `json:"consecutive_tasks_completed"`
	Defeated                  bool   `json:"defeated"`
	Version                   int64  `json:"version"`
}

// Task is the API task model.
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Priority    string  `json:"priority"`
	Category    *string `json:"category,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	IsDaily     bool    `json:"is_daily"`
	IsCompleted bool    `json:"is_completed"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// TaskPage is one window of a filtered task listing.
type TaskPage struct {
	Items         []Task `json:"items"`
	Page          int    `json:"page"`
	TotalPages    int    `json:"total_pages"`
	FilteredCount int    `json:"filtered_count"`
	PageSize      int    `json:"page_size"`
}

// Completion reports what completing a task did to the profile.
type Completion struct {
	Profile          Profile `json:"profile"`
	Task             Task    `json:"task"`
	OnTime           bool    `json:"on_time"`
	HealthDelta      int     `json:"health_delta"`
	StaminaDelta     int     `json:"stamina_delta"`
	ExperienceDelta  int     `json:"experience_delta"`
	LevelsGained     int     `json:"levels_gained"`
	MaxLevelReached  bool    `json:"max_level_reached"`
	Revived          bool    `json:"revived"`
	RevivalProgress  int     `json:"revival_progress"`
	AlreadyCompleted bool    `json:"already_completed"`
}

// Deletion reports the abandonment penalty.
type Deletion struct {
	Profile        Profile `json:"profile"`
	Damage         int     `json:"damage"`
	BecameDefeated bool    `json:"became_defeated"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// TaskQuery carries the listing filters. Zero values mean "any".
type TaskQuery struct {
	Text     string
	Priority string
	Category string
	Status   string
	Page     int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetProfile returns the character profile.
func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "v0/profile", nil, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, priority string) (Task, error) {
	body := map[string]any{"title": title}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks queries tasks with the given filters.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) (TaskPage, error) {
	params := url.Values{}
	if q.Text != "" {
		params.Set("q", q.Text)
	}
	if q.Priority != "" {
		params.Set("priority", q.Priority)
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Page > 0 {
		params.Set("page", fmt.Sprintf("%d", q.Page))
	}
	endpoint := "v0/tasks"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteTask completes a task and returns the applied progression.
func (c *Client) CompleteTask(ctx context.Context, id string) (Completion, error) {
	var resp Completion
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/complete", nil, &resp)
	return resp, err
}

// DeleteTask deletes a task, applying the abandonment penalty if it was
// still active.
func (c *Client) DeleteTask(ctx context.Context, id string) (Deletion, error) {
	var resp Deletion
	err := c.do(ctx, http.MethodDelete, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events returns recent progression events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
