package server

import (
	"heroline/internal/domain"
	"heroline/internal/engine"
	"heroline/internal/query"
)

// Request payloads

type CreateTaskRequest struct {
	ID          *string         `json:"id,omitempty"`
	Title       string          `json:"title"`
	Description *string         `json:"description,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty" enum:"low,medium,high"`
	Category    *string         `json:"category,omitempty"`
	DueDate     *string         `json:"due_date,omitempty" format:"date-time"`
	IsDaily     *bool           `json:"is_daily,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Priority    *domain.Priority `json:"priority,omitempty" enum:"low,medium,high"`
	Category    *string          `json:"category,omitempty"`
	DueDate     *string          `json:"due_date,omitempty" format:"date-time"`
	IsDaily     *bool            `json:"is_daily,omitempty"`
}

// Response payloads

type ProfileResponse struct {
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
	Defeated                  bool    `json:"defeated"`
	Version                   int64   `json:"version"`
}

type TaskResponse struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    domain.Priority `json:"priority" enum:"low,medium,high"`
	Category    *string         `json:"category,omitempty"`
	DueDate     *string         `json:"due_date,omitempty" format:"date-time"`
	IsDaily     bool            `json:"is_daily"`
	IsCompleted bool            `json:"is_completed"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	CompletedAt *string         `json:"completed_at,omitempty" format:"date-time"`
}

type TaskPageResponse struct {
	Items         []TaskResponse `json:"items"`
	Page          int            `json:"page"`
	TotalPages    int            `json:"total_pages"`
	FilteredCount int            `json:"filtered_count"`
	PageSize      int            `json:"page_size"`
}

type CompletionResponse struct {
	Profile          ProfileResponse `json:"profile"`
	Task             TaskResponse    `json:"task"`
	OnTime           bool            `json:"on_time"`
	HealthDelta      int             `json:"health_delta"`
	StaminaDelta     int             `json:"stamina_delta"`
	ExperienceDelta  int             `json:"experience_delta"`
	LevelsGained     int             `json:"levels_gained"`
	MaxLevelReached  bool            `json:"max_level_reached,omitempty"`
	Revived          bool            `json:"revived,omitempty"`
	RevivalProgress  int             `json:"revival_progress,omitempty"`
	AlreadyCompleted bool            `json:"already_completed,omitempty"`
}

type DeletionResponse struct {
	Profile        ProfileResponse `json:"profile"`
	Damage         int             `json:"damage"`
	BecameDefeated bool            `json:"became_defeated,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// mappers

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		UserID:                    p.UserID,
		Level:                     p.Level,
		Health:                    p.Health,
		MaxHealth:                 p.MaxHealth,
		Stamina:                   p.Stamina,
		MaxStamina:                p.MaxStamina,
		Experience:                p.Experience,
		TotalTasksCompleted:       p.TotalTasksCompleted,
		ConsecutiveTasksCompleted: p.ConsecutiveTasksCompleted,
		LastTaskCompletedAt:       p.LastTaskCompletedAt,
		Defeated:                  p.Defeated(),
		Version:                   p.Version,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Category:    t.Category,
		DueDate:     t.DueDate,
		IsDaily:     t.IsDaily,
		IsCompleted: t.IsCompleted,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return out
}

func pageResponse(p query.Page) TaskPageResponse {
	return TaskPageResponse{
		Items:         mapTasks(p.Tasks),
		Page:          p.Page,
		TotalPages:    p.TotalPages,
		FilteredCount: p.FilteredCount,
		PageSize:      p.PageSize,
	}
}

func completionResponse(res engine.CompletionResult, alreadyCompleted bool) CompletionResponse {
	return CompletionResponse{
		Profile:          profileResponse(res.Profile),
		Task:             taskResponse(res.Task),
		OnTime:           res.OnTime,
		HealthDelta:      res.HealthDelta,
		StaminaDelta:     res.StaminaDelta,
		ExperienceDelta:  res.ExperienceDelta,
		LevelsGained:     res.LevelsGained,
		MaxLevelReached:  res.MaxLevelReached,
		Revived:          res.Revived,
		RevivalProgress:  res.RevivalProgress,
		AlreadyCompleted: alreadyCompleted,
	}
}
