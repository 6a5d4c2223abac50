package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-service/internal/domain"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// UserLookup is the slice of the user store the middleware needs.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, bool, error)
}

// AuthMiddleware validates bearer tokens and resolves them to a Principal.
type AuthMiddleware struct {
	tokens *TokenManager
	users  UserLookup
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users UserLookup) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handle enforces authentication. The principal's role comes from the stored
// user, so a demoted admin loses access without waiting for token expiry.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	user, found, err := m.users.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if !found {
		return apperrors.NewUnauthorized("user not found")
	}

	c.Locals(principalKey, domain.Principal{UserID: user.ID, Role: user.Role})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (domain.Principal, bool) {
	principal, ok := c.Locals(principalKey).(domain.Principal)
	return principal, ok
}

// SetPrincipal stores principal on the request.
func SetPrincipal(c *fiber.Ctx, principal domain.Principal) {
	c.Locals(principalKey, principal)
}
