package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models heroline.yml: the active user plus the progression rule set.
// The rule set is the single authoritative copy of every tunable constant in
// the reward, progression, deletion and query logic.
type Config struct {
	User struct {
		ID string `yaml:"id"`
	} `yaml:"user"`
	Rules    Rules           `yaml:"rules"`
	Query    QueryConfig     `yaml:"query"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// StatScale multiplies the base on-time gains for one priority tier.
type StatScale struct {
	Health  float64 `yaml:"health"`
	Stamina float64 `yaml:"stamina"`
	Exp     float64 `yaml:"exp"`
}

// LatePenalty is the fixed cost of finishing a task past its due date.
// Health and stamina are negative; exp is a small positive trickle.
type LatePenalty struct {
	Health  int `yaml:"health"`
	Stamina int `yaml:"stamina"`
	Exp     int `yaml:"exp"`
}

type Rules struct {
	MaxLevel           int     `yaml:"max_level"`
	ExpPerLevel        int     `yaml:"exp_per_level"`
	RevivalThreshold   int     `yaml:"revival_threshold"`
	RevivalHealthRatio float64 `yaml:"revival_health_ratio"`

	BaseMaxHealth       int `yaml:"base_max_health"`
	HealthPerLevel      int `yaml:"health_per_level"`
	BaseMaxStamina      int `yaml:"base_max_stamina"`
	StaminaPerLevel     int `yaml:"stamina_per_level"`
	LevelUpStaminaBonus int `yaml:"level_up_stamina_bonus"`

	BaseHealthGain  int `yaml:"base_health_gain"`
	BaseStaminaGain int `yaml:"base_stamina_gain"`
	BaseExpGain     int `yaml:"base_exp_gain"`

	Priority       map[string]StatScale   `yaml:"priority"`
	Late           map[string]LatePenalty `yaml:"late"`
	DeletionDamage map[string]int         `yaml:"deletion_damage"`
}

type QueryConfig struct {
	PageSize int `yaml:"page_size"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events,omitempty"`
	Enabled *bool    `yaml:"enabled,omitempty"`
}

// MaxHealthAt derives the health cap for a level.
func (r Rules) MaxHealthAt(level int) int {
	if level < 1 {
		level = 1
	}
	return r.BaseMaxHealth + r.HealthPerLevel*(level-1)
}

// MaxStaminaAt derives the stamina cap for a level.
func (r Rules) MaxStaminaAt(level int) int {
	if level < 1 {
		level = 1
	}
	return r.BaseMaxStamina + r.StaminaPerLevel*(level-1)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with hl rules import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the rule set is internally consistent.
func (c *Config) Validate() error {
	if c.User.ID == "" {
		return fmt.Errorf("config.user.id is required")
	}
	r := c.Rules
	if r.MaxLevel < 1 {
		return fmt.Errorf("rules.max_level must be at least 1")
	}
	if r.ExpPerLevel <= 0 {
		return fmt.Errorf("rules.exp_per_level must be positive")
	}
	if r.RevivalThreshold < 1 {
		return fmt.Errorf("rules.revival_threshold must be at least 1")
	}
	if r.RevivalHealthRatio <= 0 || r.RevivalHealthRatio > 1 {
		return fmt.Errorf("rules.revival_health_ratio must be in (0,1]")
	}
	if r.BaseMaxHealth <= 0 || r.BaseMaxStamina <= 0 {
		return fmt.Errorf("rules.base_max_health and rules.base_max_stamina must be positive")
	}
	if r.HealthPerLevel < 0 || r.StaminaPerLevel < 0 {
		return fmt.Errorf("per-level stat growth cannot be negative")
	}
	if r.BaseHealthGain < 0 || r.BaseStaminaGain < 0 || r.BaseExpGain <= 0 {
		return fmt.Errorf("base gains must be non-negative and base_exp_gain positive")
	}
	for _, tier := range []string{"low", "medium", "high"} {
		scale, ok := r.Priority[tier]
		if !ok {
			return fmt.Errorf("rules.priority missing tier %s", tier)
		}
		if scale.Health < 0 || scale.Stamina < 0 || scale.Exp < 0 {
			return fmt.Errorf("rules.priority.%s multipliers cannot be negative", tier)
		}
		late, ok := r.Late[tier]
		if !ok {
			return fmt.Errorf("rules.late missing tier %s", tier)
		}
		if late.Health > 0 || late.Stamina > 0 {
			return fmt.Errorf("rules.late.%s health/stamina must not be positive", tier)
		}
		if late.Exp < 0 {
			return fmt.Errorf("rules.late.%s exp trickle cannot be negative", tier)
		}
		dmg, ok := r.DeletionDamage[tier]
		if !ok {
			return fmt.Errorf("rules.deletion_damage missing tier %s", tier)
		}
		if dmg < 0 {
			return fmt.Errorf("rules.deletion_damage.%s cannot be negative", tier)
		}
	}
	if c.Query.PageSize <= 0 {
		return fmt.Errorf("query.page_size must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "heroline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(userID string) string {
	return fmt.Sprintf(defaultTemplate, userID)
}

// Default returns the default Config struct for a user.
func Default(userID string) *Config {
	var cfg Config
	cfg.User.ID = userID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, userID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `user:
  id: %s

rules:
  max_level: 30
  exp_per_level: 1000
  revival_threshold: 3
  revival_health_ratio: 0.3

  base_max_health: 100
  health_per_level: 20
  base_max_stamina: 100
  stamina_per_level: 10
  level_up_stamina_bonus: 10

  base_health_gain: 10
  base_stamina_gain: 10
  base_exp_gain: 50

  priority:
    high:
      health: 1.5
      stamina: 2.0
      exp: 1.5
    medium:
      health: 1.0
      stamina: 1.0
      exp: 1.0
    low:
      health: 0.5
      stamina: 0.5
      exp: 0.7

  late:
    high:
      health: -15
      stamina: -10
      exp: 15
    medium:
      health: -10
      stamina: -6
      exp: 10
    low:
      health: -5
      stamina: -3
      exp: 5

  deletion_damage:
    high: 20
    medium: 12
    low: 8

query:
  page_size: 10
`
