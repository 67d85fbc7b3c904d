package domain

// Priority ranks how much a task is worth (and how much abandoning it hurts).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

type Task struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority" enum:"low,medium,high"`
	Category    *string  `json:"category,omitempty"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	IsDaily     bool     `json:"is_daily"`
	IsCompleted bool     `json:"is_completed"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
}

// Profile is the persistent character record driven by task completion.
// Version is an optimistic-concurrency stamp checked at the persistence
// boundary; a save against a stale version is rejected and re-merged.
type Profile struct {
	UserID                    string  `json:"user_id"`
	Level                     int     `json:"level"`
	Health                    int     `json:"health"`
	MaxHealth                 int     `json:"max_health"`
	Stamina                   int     `json:"stamina"`
	MaxStamina                int     `json:"max_stamina"`
	Experience                int     `json:"experience"`
	TotalTasksCompleted       int     `json:"total_tasks_completed"`
	ConsecutiveTasksCompleted int     `json:"consecutive_tasks_completed"`
	LastTaskCompletedAt       *string `json:"last_task_completed_at,omitempty" format:"date-time"`
	MaxLevelNotified          bool    `json:"max_level_notified"`
	Version                   int64   `json:"version"`
	CreatedAt                 string  `json:"created_at" format:"date-time"`
	UpdatedAt                 string  `json:"updated_at" format:"date-time"`
}

// Defeated is true while health is exhausted; normal rewards are suspended
// until the revival threshold is crossed.
func (p Profile) Defeated() bool {
	return p.Health <= 0
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
