package engine

import (
	"heroline/internal/config"
	"heroline/internal/domain"
)

// Effects is the named delta triple produced by the reward calculator.
// Values are raw: clamping against profile bounds happens in the
// progression step, never here.
type Effects struct {
	HealthDelta     int `json:"health_delta"`
	StaminaDelta    int `json:"stamina_delta"`
	ExperienceDelta int `json:"experience_delta"`
}

// levelFactor scales rewards up for characters past level 5.
func levelFactor(level int) float64 {
	f := float64(level) / 5.0
	if f < 1.0 {
		return 1.0
	}
	return f
}

// staminaEfficiency rewards completing tasks while depleted, discouraging
// stamina hoarding.
func staminaEfficiency(stamina int) float64 {
	switch {
	case stamina < 30:
		return 1.5
	case stamina < 50:
		return 1.2
	case stamina < 70:
		return 1.0
	default:
		return 0.7
	}
}

// ComputeEffects maps (priority, timeliness, level, stamina) to the delta
// triple. Pure and deterministic. On-time deltas are non-negative, scaled by
// priority tier, level factor and stamina efficiency, truncated toward zero.
// Late completions cost fixed health/stamina per priority but still trickle
// a little experience.
func ComputeEffects(rules config.Rules, priority domain.Priority, onTime bool, level, stamina int) Effects {
	tier := string(priority)
	if !onTime {
		pen := rules.Late[tier]
		return Effects{
			HealthDelta:     pen.Health,
			StaminaDelta:    pen.Stamina,
			ExperienceDelta: pen.Exp,
		}
	}
	scale := rules.Priority[tier]
	factor := levelFactor(level) * staminaEfficiency(stamina)
	return Effects{
		HealthDelta:     int(float64(rules.BaseHealthGain) * scale.Health * factor),
		StaminaDelta:    int(float64(rules.BaseStaminaGain) * scale.Stamina * factor),
		ExperienceDelta: int(float64(rules.BaseExpGain) * scale.Exp * factor),
	}
}

// DeletionDamage is the flat health cost of abandoning a task. It is not
// level-scaled and never touches stamina, experience or level.
func DeletionDamage(rules config.Rules, priority domain.Priority) int {
	return rules.DeletionDamage[string(priority)]
}
