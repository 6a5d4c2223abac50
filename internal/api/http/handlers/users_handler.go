package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-service/internal/api/dto"
	"github.com/spec-kit/issue-service/internal/service"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

// UsersHandler serves authentication, profile, leaderboard and user administration.
type UsersHandler struct {
	auth        *service.AuthService
	users       *service.UserService
	leaderboard *service.LeaderboardService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService, userService *service.UserService, leaderboard *service.LeaderboardService) *UsersHandler {
	return &UsersHandler{auth: authService, users: userService, leaderboard: leaderboard}
}

// Login POST /auth/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.UserLoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, token, exp, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AuthResponse{Token: token, ExpiresAt: exp, User: dto.NewUserResponse(user)}})
}

// Me GET /users/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	user, err := h.users.Me(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// ChangePassword PUT /users/me/password.
func (h *UsersHandler) ChangePassword(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ChangePasswordRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.auth.ChangePassword(c.UserContext(), principal, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Leaderboard GET /users/leaderboard?limit=&source=ledger|issues.
func (h *UsersHandler) Leaderboard(c *fiber.Ctx) error {
	details := map[string]any{}
	limit := queryInt(c, "limit", 0, details)
	if len(details) > 0 {
		return apperrors.NewValidationError("validation failed", details)
	}

	var (
		entries []service.LeaderboardEntry
		err     error
	)
	switch strings.ToLower(c.Query("source", "ledger")) {
	case "ledger":
		entries, err = h.leaderboard.Top(c.UserContext(), limit)
	case "issues":
		entries, err = h.leaderboard.FromIssues(c.UserContext(), limit)
	default:
		return apperrors.NewValidationError("validation failed", map[string]any{"source": "must be ledger or issues"})
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

// Create POST /users.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var req dto.UserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, err := h.users.Create(c.UserContext(), userInput(req))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// List GET /users.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	users, err := h.users.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponses(users)})
}

// Get GET /users/:id.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	user, err := h.users.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// Update PUT /users/:id.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	var req dto.UserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, err := h.users.Update(c.UserContext(), c.Params("id"), userInput(req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// Delete DELETE /users/:id.
func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.users.Delete(c.UserContext(), principal, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func userInput(req dto.UserRequest) service.UserInput {
	return service.UserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}
}
