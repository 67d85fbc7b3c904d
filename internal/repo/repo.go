package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"heroline/internal/config"
	"heroline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a profile save loses the optimistic
// concurrency check: another writer bumped the version stamp since this
// profile was loaded. Callers reload and re-apply.
var ErrVersionConflict = errors.New("profile version conflict")

// --- profiles ---

const profileColumns = `user_id,level,health,max_health,stamina,max_stamina,experience,
total_tasks_completed,consecutive_tasks_completed,last_task_completed_at,max_level_notified,version,created_at,updated_at`

func scanProfile(row *sql.Row) (domain.Profile, error) {
	var p domain.Profile
	var lastCompleted sql.NullString
	err := row.Scan(&p.UserID, &p.Level, &p.Health, &p.MaxHealth, &p.Stamina, &p.MaxStamina, &p.Experience,
		&p.TotalTasksCompleted, &p.ConsecutiveTasksCompleted, &lastCompleted, &p.MaxLevelNotified, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if lastCompleted.Valid {
		p.LastTaskCompletedAt = &lastCompleted.String
	}
	return p, err
}

func (r Repo) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id=?`, userID))
}

func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles(`+profileColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.UserID, p.Level, p.Health, p.MaxHealth, p.Stamina, p.MaxStamina, p.Experience,
		p.TotalTasksCompleted, p.ConsecutiveTasksCompleted, nullableStringPtr(p.LastTaskCompletedAt), p.MaxLevelNotified, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

// UpdateProfile persists the profile only if the stored version still matches
// the version the profile was loaded at, bumping the stamp on success.
func (r Repo) UpdateProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) (domain.Profile, error) {
	res, err := tx.ExecContext(ctx, `UPDATE profiles SET
level=?,health=?,max_health=?,stamina=?,max_stamina=?,experience=?,
total_tasks_completed=?,consecutive_tasks_completed=?,last_task_completed_at=?,max_level_notified=?,
version=version+1,updated_at=?
WHERE user_id=? AND version=?`,
		p.Level, p.Health, p.MaxHealth, p.Stamina, p.MaxStamina, p.Experience,
		p.TotalTasksCompleted, p.ConsecutiveTasksCompleted, nullableStringPtr(p.LastTaskCompletedAt), p.MaxLevelNotified,
		p.UpdatedAt, p.UserID, p.Version)
	if err != nil {
		return p, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := r.GetProfile(ctx, p.UserID); errors.Is(err, ErrNotFound) {
			return p, ErrNotFound
		}
		return p, ErrVersionConflict
	}
	p.Version++
	return p, nil
}

// --- tasks ---

const taskColumns = `id,user_id,title,COALESCE(description,'') AS description,priority,category,due_date,is_daily,is_completed,created_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var category, dueDate, completedAt sql.NullString
	err := scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Priority, &category, &dueDate, &t.IsDaily, &t.IsCompleted, &t.CreatedAt, &completedAt)
	if err != nil {
		return t, err
	}
	if category.Valid {
		t.Category = &category.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,user_id,title,description,priority,category,due_date,is_daily,is_completed,created_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Title, nullable(t.Description), string(t.Priority), nullableStringPtr(t.Category), nullableStringPtr(t.DueDate),
		t.IsDaily, t.IsCompleted, t.CreatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// ListTasks returns the full task snapshot for one user, newest first. The
// query engine filters and pages this snapshot in memory.
func (r Repo) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) MarkTaskCompleted(ctx context.Context, tx *sql.Tx, id, completedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET is_completed=1, completed_at=? WHERE id=?`, completedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,priority=?,category=?,due_date=?,is_daily=?,is_completed=?,completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), string(t.Priority), nullableStringPtr(t.Category), nullableStringPtr(t.DueDate),
		t.IsDaily, t.IsCompleted, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(user_id,''),entity_kind,COALESCE(entity_id,''),payload_json
FROM events WHERE user_id=? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with id greater than cursor, oldest first. The
// webhook dispatcher uses this to drain the log incrementally.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64, userID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(user_id,''),entity_kind,COALESCE(entity_id,''),payload_json
FROM events WHERE id>? AND user_id=? ORDER BY id ASC LIMIT ?`, afterID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestEventID returns the newest event id for the user, or 0.
func (r Repo) LatestEventID(ctx context.Context, userID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE user_id=?`, userID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.UserID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- rules configs ---

func (r Repo) UpsertRulesConfig(ctx context.Context, userID string, cfg *config.Config) error {
	return upsertRulesConfig(ctx, r.DB, nil, userID, cfg)
}

func (r Repo) UpsertRulesConfigTx(ctx context.Context, tx *sql.Tx, userID string, cfg *config.Config) error {
	return upsertRulesConfig(ctx, nil, tx, userID, cfg)
}

func upsertRulesConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, userID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.User.ID = userID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO rules_configs(user_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, userID, string(payload), now, now)
	return err
}

func (r Repo) GetRulesConfig(ctx context.Context, userID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM rules_configs WHERE user_id=?`, userID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.User.ID == "" {
		cfg.User.ID = userID
	}
	return &cfg, cfg.Validate()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
