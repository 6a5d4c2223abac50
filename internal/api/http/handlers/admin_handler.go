package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-service/internal/api/dto"
	"github.com/spec-kit/issue-service/internal/service"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

// AdminHandler serves ledger maintenance endpoints.
type AdminHandler struct {
	ledger *service.LedgerService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(ledger *service.LedgerService) *AdminHandler {
	return &AdminHandler{ledger: ledger}
}

// Reconcile POST /admin/reconcile?repair=true.
func (h *AdminHandler) Reconcile(c *fiber.Ctx) error {
	repair := false
	if raw := c.Query("repair"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.NewValidationError("validation failed", map[string]any{"repair": "must be a boolean"})
		}
		repair = parsed
	}

	drifts, err := h.ledger.Reconcile(c.UserContext(), repair)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"repair": repair, "drifts": drifts}})
}

// PendingCredits GET /admin/pending-credits.
func (h *AdminHandler) PendingCredits(c *fiber.Ctx) error {
	entries, err := h.ledger.PendingCredits(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueHistoryResponses(entries)})
}
