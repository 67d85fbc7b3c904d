package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"heroline/internal/config"
	"heroline/internal/db"
	"heroline/internal/domain"
	"heroline/internal/engine"
	"heroline/internal/migrate"
	"heroline/internal/query"
	"heroline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("hero-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProfile(ctx, "hero-1"); err != nil {
		t.Fatalf("init profile: %v", err)
	}
	if err := eng.Repo.UpsertRulesConfig(ctx, "hero-1", cfg); err != nil {
		t.Fatalf("seed rules config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) addTask(t *testing.T, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	if opts.UserID == "" {
		opts.UserID = "hero-1"
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

// setProfile rewrites the stored profile through the normal versioned path.
func (env testEnv) setProfile(t *testing.T, mutate func(*domain.Profile)) {
	t.Helper()
	p, err := env.Engine.Repo.GetProfile(env.Ctx, "hero-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	mutate(&p)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if _, err := env.Engine.Repo.UpdateProfile(env.Ctx, tx, p); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestInitProfileStartsAtLevelOne(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.Repo.GetProfile(env.Ctx, "hero-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.Level != 1 || p.Health != 100 || p.MaxHealth != 100 || p.Stamina != 100 || p.MaxStamina != 100 {
		t.Fatalf("fresh profile: %+v", p)
	}
	// Re-init is a no-op.
	again, err := env.Engine.InitProfile(env.Ctx, "hero-1")
	if err != nil || again.Version != p.Version {
		t.Fatalf("re-init changed profile: %+v err=%v", again, err)
	}
}

func TestCompleteTaskOnTime(t *testing.T) {
	env := newTestEnv(t)
	task := env.addTask(t, engine.TaskCreateOptions{Title: "Write report"})

	res, err := env.Engine.CompleteTask(env.Ctx, "hero-1", task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.OnTime {
		t.Fatalf("no due date must count as on time")
	}
	// Health and stamina were already full, so the applied deltas clamp to 0.
	if res.HealthDelta != 0 || res.StaminaDelta != 0 {
		t.Fatalf("applied deltas at full stats: hp %d stam %d", res.HealthDelta, res.StaminaDelta)
	}
	if res.ExperienceDelta != 35 || res.Profile.Experience != 35 {
		t.Fatalf("experience: delta %d total %d", res.ExperienceDelta, res.Profile.Experience)
	}
	if res.Profile.TotalTasksCompleted != 1 {
		t.Fatalf("total completed: %d", res.Profile.TotalTasksCompleted)
	}
	if !res.Task.IsCompleted {
		t.Fatalf("task not marked completed")
	}
}

func TestCompleteTaskLate(t *testing.T) {
	env := newTestEnv(t)
	task := env.addTask(t, engine.TaskCreateOptions{Title: "Overdue", DueDate: "2023-12-31T00:00:00Z"})

	res, err := env.Engine.CompleteTask(env.Ctx, "hero-1", task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.OnTime {
		t.Fatalf("expected late completion")
	}
	if res.Profile.Health != 90 || res.Profile.Stamina != 94 {
		t.Fatalf("late penalty: %d health %d stamina", res.Profile.Health, res.Profile.Stamina)
	}
	if res.Profile.Experience != 10 {
		t.Fatalf("late xp trickle: %d", res.Profile.Experience)
	}
}

func TestCompleteTaskTwiceIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	task := env.addTask(t, engine.TaskCreateOptions{Title: "Once"})
	if _, err := env.Engine.CompleteTask(env.Ctx, "hero-1", task.ID); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	res, err := env.Engine.CompleteTask(env.Ctx, "hero-1", task.ID)
	if !errors.Is(err, engine.ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
	// The no-op still hands back current state for display.
	if res.Profile.Experience != 35 || !res.Task.IsCompleted {
		t.Fatalf("no-op state: %+v", res)
	}
	p, _ := env.Engine.Repo.GetProfile(env.Ctx, "hero-1")
	if p.Experience != 35 || p.TotalTasksCompleted != 1 {
		t.Fatalf("second complete mutated the profile: %+v", p)
	}
}

func TestCompleteTaskLevelUp(t *testing.T) {
	env := newTestEnv(t)
	env.setProfile(t, func(p *domain.Profile) { p.Experience = 980 })
	task := env.addTask(t, engine.TaskCreateOptions{Title: "Final push"})

	res, err := env.Engine.CompleteTask(env.Ctx, "hero-1", task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.LevelsGained != 1 || res.Profile.Level != 2 {
		t.Fatalf("level up: gained %d level %d", res.LevelsGained, res.Profile.Level)
	}
	if res.Profile.Experience != 15 {
		t.Fatalf("carried experience: %d", res.Profile.Experience)
	}
	if res.Profile.Health != 120 || res.Profile.MaxHealth != 120 {
		t.Fatalf("full heal on level up: %d/%d", res.Profile.Health, res.Profile.MaxHealth)
	}
	if res.Profile.Stamina != 110 || res.Profile.MaxStamina != 110 {
		t.Fatalf("stamina bonus on level up: %d/%d", res.Profile.Stamina, res.Profile.MaxStamina)
	}
}

func TestDeleteTaskPenaltyAndDefeat(t *testing.T) {
	env := newTestEnv(t)

	task := env.addTask(t, engine.TaskCreateOptions{Title: "Abandon me", Priority: domain.PriorityHigh})
	res, err := env.Engine.DeleteTask(env.Ctx, "hero-1", task.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Damage != 20 || res.Profile.Health != 80 || res.BecameDefeat {
		t.Fatalf("deletion penalty: %+v", res)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task should be gone, got %v", err)
	}

	// Four more high deletions drain the remaining 80 health.
	for i := 0; i < 4; i++ {
		task = env.addTask(t, engine.TaskCreateOptions{Title: fmt.Sprintf("drain %d", i), Priority: domain.PriorityHigh})
		res, err = env.Engine.DeleteTask(env.Ctx, "hero-1", task.ID)
		if err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if res.Profile.Health != 0 || !res.BecameDefeat {
		t.Fatalf("expected defeat on the final deletion: %+v", res)
	}
}

func TestDeleteCompletedTaskIsFree(t *testing.T) {
	env := newTestEnv(t)
	task := env.addTask(t, engine.TaskCreateOptions{Title: "Done already", Priority: domain.PriorityHigh})
	if _, err := env.Engine.CompleteTask(env.Ctx, "hero-1", task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	res, err := env.Engine.DeleteTask(env.Ctx, "hero-1", task.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Damage != 0 || res.Profile.Health != 100 {
		t.Fatalf("completed tasks delete without damage: %+v", res)
	}
}

func TestRevivalThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	env.setProfile(t, func(p *domain.Profile) { p.Health = 0 })

	for i := 1; i <= 3; i++ {
		task := env.addTask(t, engine.TaskCreateOptions{Title: fmt.Sprintf("climb %d", i)})
		res, err := env.Engine.CompleteTask(env.Ctx, "hero-1", task.ID)
		if err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
		if i < 3 {
			if res.Revived || res.RevivalProgress != i {
				t.Fatalf("step %d: %+v", i, res)
			}
			if res.Profile.Experience != 0 {
				t.Fatalf("no rewards while defeated, got %d xp", res.Profile.Experience)
			}
		} else {
			if !res.Revived || res.Profile.Health != 30 {
				t.Fatalf("revival: %+v", res)
			}
		}
	}
}

func TestUpdateTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.addTask(t, engine.TaskCreateOptions{Title: "Draft", Category: "work", DueDate: "2024-02-01T00:00:00Z"})

	title := "Draft v2"
	clear := ""
	high := domain.PriorityHigh
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:       task.ID,
		UserID:   "hero-1",
		Title:    &title,
		Priority: &high,
		DueDate:  &clear,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Draft v2" || updated.Priority != domain.PriorityHigh {
		t.Fatalf("updated fields: %+v", updated)
	}
	if updated.DueDate != nil {
		t.Fatalf("empty due date must clear")
	}
	if updated.Category == nil || *updated.Category != "work" {
		t.Fatalf("untouched fields must persist: %+v", updated)
	}

	if _, err := env.Engine.CompleteTask(env.Ctx, "hero-1", task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, UserID: "hero-1", Title: &title}); !errors.Is(err, engine.ErrAlreadyCompleted) {
		t.Fatalf("completed tasks are immutable, got %v", err)
	}
}

func TestTaskOwnershipAndMissing(t *testing.T) {
	env := newTestEnv(t)
	task := env.addTask(t, engine.TaskCreateOptions{Title: "Mine"})

	if _, err := env.Engine.CompleteTask(env.Ctx, "hero-1", "nope"); !errors.Is(err, engine.ErrTaskNotFound) {
		t.Fatalf("missing task: %v", err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, "intruder", task.ID); !errors.Is(err, engine.ErrProfileNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestQueryTasksPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 15; i++ {
		env.addTask(t, engine.TaskCreateOptions{
			ID:    fmt.Sprintf("task-%02d", i),
			Title: fmt.Sprintf("chore %02d", i),
		})
	}

	page, err := env.Engine.QueryTasks(env.Ctx, "hero-1", query.Filter{Status: query.StatusAll, Page: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Tasks) != 10 || page.TotalPages != 2 || page.FilteredCount != 15 {
		t.Fatalf("page 1: %d tasks, %d pages, %d filtered", len(page.Tasks), page.TotalPages, page.FilteredCount)
	}

	// Out-of-range pages clamp to the last one.
	page, err = env.Engine.QueryTasks(env.Ctx, "hero-1", query.Filter{Status: query.StatusAll, Page: 99})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Page != 2 || len(page.Tasks) != 5 {
		t.Fatalf("clamped page: page %d with %d tasks", page.Page, len(page.Tasks))
	}
}

func TestProfileVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	stale, err := env.Engine.Repo.GetProfile(env.Ctx, "hero-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	env.setProfile(t, func(p *domain.Profile) { p.Experience = 100 })

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if _, err := env.Engine.Repo.UpdateProfile(env.Ctx, tx, stale); !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("stale write must conflict, got %v", err)
	}
}
