package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("hero-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.User.ID != "hero-1" {
		t.Fatalf("user id: %q", cfg.User.ID)
	}
	if cfg.Rules.MaxLevel != 30 || cfg.Rules.ExpPerLevel != 1000 || cfg.Rules.RevivalThreshold != 3 {
		t.Fatalf("core constants: %+v", cfg.Rules)
	}
	if cfg.Query.PageSize != 10 {
		t.Fatalf("page size: %d", cfg.Query.PageSize)
	}
}

func TestStatCurves(t *testing.T) {
	r := Default("hero-1").Rules
	if r.MaxHealthAt(1) != 100 || r.MaxHealthAt(5) != 180 {
		t.Fatalf("health curve: %d %d", r.MaxHealthAt(1), r.MaxHealthAt(5))
	}
	if r.MaxStaminaAt(1) != 100 || r.MaxStaminaAt(5) != 140 {
		t.Fatalf("stamina curve: %d %d", r.MaxStaminaAt(1), r.MaxStaminaAt(5))
	}
}

func TestGenerateDefaultRoundTrip(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("hero-1")))
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if cfg.User.ID != "hero-1" || cfg.Rules.MaxLevel != 30 {
		t.Fatalf("round trip: %+v", cfg)
	}
}

func TestValidateRejectsBadRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing user", func(c *Config) { c.User.ID = "" }, "user.id"},
		{"zero max level", func(c *Config) { c.Rules.MaxLevel = 0 }, "max_level"},
		{"bad revival ratio", func(c *Config) { c.Rules.RevivalHealthRatio = 1.5 }, "revival_health_ratio"},
		{"missing tier", func(c *Config) { delete(c.Rules.Priority, "high") }, "priority"},
		{"positive late penalty", func(c *Config) {
			c.Rules.Late["medium"] = LatePenalty{Health: 5, Stamina: -1, Exp: 1}
		}, "late"},
		{"negative deletion damage", func(c *Config) { c.Rules.DeletionDamage["low"] = -1 }, "deletion_damage"},
		{"zero page size", func(c *Config) { c.Query.PageSize = 0 }, "page_size"},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }, "webhooks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("hero-1")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file: cfg=%v err=%v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "heroline.yml"), []byte(GenerateDefault("hero-2")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.User.ID != "hero-2" {
		t.Fatalf("loaded user: %q", cfg.User.ID)
	}
}
