package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-service/internal/api/dto"
	"github.com/spec-kit/issue-service/internal/auth"
	"github.com/spec-kit/issue-service/internal/domain"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

func requirePrincipal(c *fiber.Ctx) (domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Principal{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"body": err.Error()})
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(c *fiber.Ctx, key string, def int, details map[string]any) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		details[key] = "must be an integer"
		return def
	}
	return parsed
}

func parseDate(raw *string, field string, details map[string]any) *time.Time {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	parsed, err := time.Parse(dto.DateLayout, strings.TrimSpace(*raw))
	if err != nil {
		details[field] = "must be a date formatted as YYYY-MM-DD"
		return nil
	}
	return &parsed
}
