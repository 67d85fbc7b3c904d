package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"heroline/internal/config"
	"heroline/internal/domain"
	"heroline/internal/events"
	"heroline/internal/query"
	"heroline/internal/repo"
)

// conflictRetries bounds the re-merge loop when a concurrent writer bumps the
// profile version between load and save.
const conflictRetries = 3

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) rules() config.Rules {
	return e.Config.Rules
}

// InitProfile creates a fresh level-1 profile for the user. Existing profiles
// are returned unchanged.
func (e Engine) InitProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if e.Config == nil {
		return domain.Profile{}, errors.New("config not loaded")
	}
	if p, err := e.Repo.GetProfile(ctx, userID); err == nil {
		return p, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Profile{}, err
	}
	rules := e.rules()
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Profile{
		UserID:     userID,
		Level:      1,
		MaxHealth:  rules.MaxHealthAt(1),
		MaxStamina: rules.MaxStaminaAt(1),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	p.Health = p.MaxHealth
	p.Stamina = p.MaxStamina

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "profile.created", userID, "profile", userID, events.EventPayload{"level": p.Level}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Priority    domain.Priority
	Category    string
	DueDate     string
	IsDaily     bool
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.UserID == "" {
		return domain.Task{}, errors.New("user is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.IsValid() {
		return domain.Task{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	if opts.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
			return domain.Task{}, fmt.Errorf("due date: %w", err)
		}
	}
	if _, err := e.Repo.GetProfile(ctx, opts.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, ErrProfileNotFound
		}
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.UserID+"|"+opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:          id,
		UserID:      opts.UserID,
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		Category:    optionalString(opts.Category),
		DueDate:     optionalString(opts.DueDate),
		IsDaily:     opts.IsDaily,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.UserID, "task", t.ID, events.EventPayload{
		"title":    t.Title,
		"priority": string(t.Priority),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions carries the editable task fields, each as a typed
// optional. Nil means leave unchanged; a pointer to the zero value clears.
type TaskUpdateOptions struct {
	ID          string
	UserID      string
	Title       *string
	Description *string
	Priority    *domain.Priority
	Category    *string
	DueDate     *string
	IsDaily     *bool
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.taskForUser(ctx, opts.UserID, opts.ID)
	if err != nil {
		return t, err
	}
	if t.IsCompleted {
		return t, ErrAlreadyCompleted
	}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return t, errors.New("title cannot be empty")
		}
		t.Title = title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		if !opts.Priority.IsValid() {
			return t, fmt.Errorf("invalid priority %q", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.Category != nil {
		t.Category = optionalString(*opts.Category)
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *opts.DueDate); err != nil {
				return t, fmt.Errorf("due date: %w", err)
			}
			t.DueDate = opts.DueDate
		}
	}
	if opts.IsDaily != nil {
		t.IsDaily = *opts.IsDaily
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.UserID, "task", t.ID, events.EventPayload{
		"title": t.Title,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// CompleteTask applies a completion to the user's profile atomically:
// validate, run the pure progression step, then persist task and profile in
// one transaction. A profile version conflict (another device finished a task
// in between) re-loads and re-applies from scratch.
func (e Engine) CompleteTask(ctx context.Context, userID, taskID string) (CompletionResult, error) {
	if e.Config == nil {
		return CompletionResult{}, errors.New("config not loaded")
	}
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		res, err := e.completeOnce(ctx, userID, taskID)
		if errors.Is(err, repo.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return res, err
	}
	return CompletionResult{}, lastErr
}

func (e Engine) completeOnce(ctx context.Context, userID, taskID string) (CompletionResult, error) {
	profile, err := e.Repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CompletionResult{}, ErrProfileNotFound
		}
		return CompletionResult{}, err
	}
	task, err := e.taskForUser(ctx, userID, taskID)
	if err != nil {
		return CompletionResult{}, err
	}
	if task.IsCompleted {
		return CompletionResult{Profile: profile, Task: task}, ErrAlreadyCompleted
	}

	res := applyCompletion(e.rules(), profile, task, e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompletionResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkTaskCompleted(ctx, tx, task.ID, *res.Task.CompletedAt); err != nil {
		return CompletionResult{}, err
	}
	saved, err := e.Repo.UpdateProfile(ctx, tx, res.Profile)
	if err != nil {
		return CompletionResult{}, err
	}
	res.Profile = saved
	if err := e.Events.Append(ctx, tx, "task.completed", userID, "task", task.ID, events.EventPayload{
		"on_time":       res.OnTime,
		"health_delta":  res.HealthDelta,
		"stamina_delta": res.StaminaDelta,
		"exp_delta":     res.ExperienceDelta,
	}); err != nil {
		return CompletionResult{}, err
	}
	if res.LevelsGained > 0 {
		if err := e.Events.Append(ctx, tx, "profile.level_up", userID, "profile", userID, events.EventPayload{
			"level":         res.Profile.Level,
			"levels_gained": res.LevelsGained,
		}); err != nil {
			return CompletionResult{}, err
		}
	}
	if res.MaxLevelReached {
		if err := e.Events.Append(ctx, tx, "profile.max_level", userID, "profile", userID, events.EventPayload{
			"level": res.Profile.Level,
		}); err != nil {
			return CompletionResult{}, err
		}
	}
	if res.Revived {
		if err := e.Events.Append(ctx, tx, "profile.revived", userID, "profile", userID, events.EventPayload{
			"health": res.Profile.Health,
		}); err != nil {
			return CompletionResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return CompletionResult{}, err
	}
	return res, nil
}

// DeleteTask removes an incomplete task and charges the abandonment penalty.
// Completed tasks are deleted without damage.
func (e Engine) DeleteTask(ctx context.Context, userID, taskID string) (DeletionResult, error) {
	if e.Config == nil {
		return DeletionResult{}, errors.New("config not loaded")
	}
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		res, err := e.deleteOnce(ctx, userID, taskID)
		if errors.Is(err, repo.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return res, err
	}
	return DeletionResult{}, lastErr
}

func (e Engine) deleteOnce(ctx context.Context, userID, taskID string) (DeletionResult, error) {
	profile, err := e.Repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return DeletionResult{}, ErrProfileNotFound
		}
		return DeletionResult{}, err
	}
	task, err := e.taskForUser(ctx, userID, taskID)
	if err != nil {
		return DeletionResult{}, err
	}

	res := DeletionResult{Profile: profile}
	if !task.IsCompleted {
		res = applyDeletion(e.rules(), profile, task.Priority, e.now())
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DeletionResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, task.ID); err != nil {
		return DeletionResult{}, err
	}
	if res.Damage > 0 {
		saved, err := e.Repo.UpdateProfile(ctx, tx, res.Profile)
		if err != nil {
			return DeletionResult{}, err
		}
		res.Profile = saved
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", userID, "task", task.ID, events.EventPayload{
		"damage": res.Damage,
	}); err != nil {
		return DeletionResult{}, err
	}
	if res.BecameDefeat {
		if err := e.Events.Append(ctx, tx, "profile.defeated", userID, "profile", userID, events.EventPayload{}); err != nil {
			return DeletionResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return DeletionResult{}, err
	}
	return res, nil
}

// QueryTasks filters and pages the user's task snapshot with the configured
// page size. Read-side only; safe to run alongside mutations.
func (e Engine) QueryTasks(ctx context.Context, userID string, f query.Filter) (query.Page, error) {
	tasks, err := e.Repo.ListTasks(ctx, userID)
	if err != nil {
		return query.Page{}, err
	}
	pageSize := 0
	if e.Config != nil {
		pageSize = e.Config.Query.PageSize
	}
	return query.Run(tasks, f, pageSize), nil
}

func (e Engine) taskForUser(ctx context.Context, userID, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return t, ErrTaskNotFound
		}
		return t, err
	}
	if t.UserID != userID {
		return domain.Task{}, ErrTaskNotFound
	}
	return t, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
