package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-service/internal/config"
	"github.com/spec-kit/issue-service/internal/domain"
)

// SeedUsers creates the initial admin, plus two demo developers when enabled,
// if the user table is empty. It returns how many users were created.
func SeedUsers(ctx context.Context, users *UserService, cfg config.SeedConfig, logger *zap.Logger) (int, error) {
	count, err := users.users.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	inputs := []UserInput{{
		Username: "Admin User",
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
		Role:     string(domain.RoleAdmin),
	}}
	if cfg.DemoUsers {
		inputs = append(inputs,
			UserInput{Username: "Dev One", Email: "dev1@devvault.com", Password: "dev123", Role: string(domain.RoleUser)},
			UserInput{Username: "Dev Two", Email: "dev2@devvault.com", Password: "dev123", Role: string(domain.RoleUser)},
		)
	}

	created := 0
	for _, input := range inputs {
		if _, err := users.Create(ctx, input); err != nil {
			return created, err
		}
		created++
	}
	if logger != nil {
		logger.Info("seeded initial users", zap.Int("count", created))
	}
	return created, nil
}
