package engine

import (
	"time"

	"heroline/internal/config"
	"heroline/internal/domain"
)

// CompletionResult reports what a single completion did to the profile.
// Health/Stamina/Experience deltas are the applied (post-clamp) values the
// caller hands to the notifier.
type CompletionResult struct {
	Profile         domain.Profile `json:"profile"`
	Task            domain.Task    `json:"task"`
	OnTime          bool           `json:"on_time"`
	HealthDelta     int            `json:"health_delta"`
	StaminaDelta    int            `json:"stamina_delta"`
	ExperienceDelta int            `json:"experience_delta"`
	LevelsGained    int            `json:"levels_gained"`
	MaxLevelReached bool           `json:"max_level_reached,omitempty"`
	Revived         bool           `json:"revived,omitempty"`
	RevivalProgress int            `json:"revival_progress,omitempty"`
}

// DeletionResult reports the penalty applied when a task is abandoned.
type DeletionResult struct {
	Profile      domain.Profile `json:"profile"`
	Damage       int            `json:"damage"`
	BecameDefeat bool           `json:"became_defeated,omitempty"`
}

func dueDateOf(task domain.Task) *time.Time {
	if task.DueDate == nil {
		return nil
	}
	due, err := time.Parse(time.RFC3339, *task.DueDate)
	if err != nil {
		return nil
	}
	return &due
}

// applyCompletion runs the progression state machine over profile health as a
// pure value computation: Active profiles take the normal reward path,
// Defeated profiles (health 0) take a revival step instead. The given profile
// is returned updated; the caller owns persistence.
func applyCompletion(rules config.Rules, profile domain.Profile, task domain.Task, now time.Time) CompletionResult {
	nowStr := now.UTC().Format(time.RFC3339)

	if profile.Defeated() {
		return applyRevivalStep(rules, profile, task, nowStr)
	}

	onTime := true
	if due := dueDateOf(task); due != nil && now.After(*due) {
		onTime = false
	}
	eff := ComputeEffects(rules, task.Priority, onTime, profile.Level, profile.Stamina)

	healthBefore := profile.Health
	staminaBefore := profile.Stamina
	if onTime {
		profile.Health = min(profile.Health+eff.HealthDelta, profile.MaxHealth)
		profile.Stamina = min(profile.Stamina+eff.StaminaDelta, profile.MaxStamina)
	} else {
		profile.Health = max(profile.Health+eff.HealthDelta, 0)
		profile.Stamina = max(profile.Stamina+eff.StaminaDelta, 0)
	}
	profile.Experience += eff.ExperienceDelta

	// Level-up loop; a single large award may cross several thresholds.
	levelsGained := 0
	for profile.Experience >= rules.ExpPerLevel && profile.Level < rules.MaxLevel {
		profile.Experience -= rules.ExpPerLevel
		profile.Level++
		levelsGained++
		profile.MaxHealth = rules.MaxHealthAt(profile.Level)
		profile.MaxStamina = rules.MaxStaminaAt(profile.Level)
		profile.Health = profile.MaxHealth
		profile.Stamina = min(profile.Stamina+rules.LevelUpStaminaBonus, profile.MaxStamina)
	}
	// Experience cannot bank past the final threshold at the level cap.
	if profile.Level >= rules.MaxLevel && profile.Experience >= rules.ExpPerLevel {
		profile.Experience = rules.ExpPerLevel - 1
	}
	maxLevelReached := false
	if profile.Level >= rules.MaxLevel && !profile.MaxLevelNotified {
		profile.MaxLevelNotified = true
		maxLevelReached = true
	}

	profile.TotalTasksCompleted++
	profile.ConsecutiveTasksCompleted = 0
	profile.LastTaskCompletedAt = &nowStr
	profile.UpdatedAt = nowStr

	task.IsCompleted = true
	task.CompletedAt = &nowStr

	return CompletionResult{
		Profile:         profile,
		Task:            task,
		OnTime:          onTime,
		HealthDelta:     profile.Health - healthBefore,
		StaminaDelta:    profile.Stamina - staminaBefore,
		ExperienceDelta: eff.ExperienceDelta,
		LevelsGained:    levelsGained,
		MaxLevelReached: maxLevelReached,
	}
}

// applyRevivalStep is the only path out of Defeated: completions count toward
// the revival threshold and grant no other rewards, keeping the climb back
// distinct from normal progression.
func applyRevivalStep(rules config.Rules, profile domain.Profile, task domain.Task, nowStr string) CompletionResult {
	profile.ConsecutiveTasksCompleted++
	profile.TotalTasksCompleted++
	profile.LastTaskCompletedAt = &nowStr
	profile.UpdatedAt = nowStr

	task.IsCompleted = true
	task.CompletedAt = &nowStr

	res := CompletionResult{
		Profile:         profile,
		Task:            task,
		OnTime:          true,
		RevivalProgress: profile.ConsecutiveTasksCompleted,
	}
	if profile.ConsecutiveTasksCompleted >= rules.RevivalThreshold {
		revived := int(float64(profile.MaxHealth) * rules.RevivalHealthRatio)
		if revived < 1 {
			revived = 1
		}
		healthBefore := profile.Health
		profile.Health = revived
		profile.ConsecutiveTasksCompleted = 0
		res.Profile = profile
		res.Revived = true
		res.RevivalProgress = 0
		res.HealthDelta = profile.Health - healthBefore
	}
	return res
}

// applyDeletion subtracts the flat abandonment damage, floored at zero.
// Driving health to zero parks the profile in Defeated until the revival
// machine brings it back.
func applyDeletion(rules config.Rules, profile domain.Profile, priority domain.Priority, now time.Time) DeletionResult {
	damage := DeletionDamage(rules, priority)
	wasDefeated := profile.Defeated()
	profile.Health = max(profile.Health-damage, 0)
	profile.UpdatedAt = now.UTC().Format(time.RFC3339)
	return DeletionResult{
		Profile:      profile,
		Damage:       damage,
		BecameDefeat: !wasDefeated && profile.Defeated(),
	}
}
