package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-service/internal/domain"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

// RequireRole allows the request through only for principals holding one of allowed.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if _, permitted := allowedSet[principal.Role]; !permitted {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
