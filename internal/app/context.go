package app

import (
	"context"
	"errors"
	"fmt"

	"heroline/internal/config"
	"heroline/internal/engine"
	"heroline/internal/repo"
)

// DefaultUserID is the single-player identity used when nothing else is
// configured.
const DefaultUserID = "local-hero"

// ResolveUserAndConfig picks the active user and ensures a profile + rules
// config exist in the DB, seeding defaults if missing. Precedence for the
// user: explicit override, then heroline.yml, then the local default.
func ResolveUserAndConfig(ctx context.Context, workspace, userOverride string, r repo.Repo) (string, *config.Config, error) {
	userID := userOverride
	var fileCfg *config.Config
	if cfg, err := config.LoadOptional(workspace); err != nil {
		return "", nil, err
	} else if cfg != nil {
		fileCfg = cfg
		if userID == "" {
			userID = cfg.User.ID
		}
	}
	if userID == "" {
		userID = DefaultUserID
	}

	cfg, err := r.GetRulesConfig(ctx, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		seed := fileCfg
		if seed == nil {
			seed = config.Default(userID)
		}
		if err := r.UpsertRulesConfig(ctx, userID, seed); err != nil {
			return "", nil, fmt.Errorf("seed rules config: %w", err)
		}
		cfg = seed
	}
	cfg.User.ID = userID

	eng := engine.New(r.DB, cfg)
	if _, err := eng.InitProfile(ctx, userID); err != nil {
		return "", nil, fmt.Errorf("init profile: %w", err)
	}
	return userID, cfg, nil
}
