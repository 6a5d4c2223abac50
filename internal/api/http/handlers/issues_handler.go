package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-service/internal/api/dto"
	"github.com/spec-kit/issue-service/internal/service"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

// IssuesHandler serves the /issues endpoints.
type IssuesHandler struct {
	service *service.IssueService
	now     func() time.Time
}

// NewIssuesHandler constructs handler.
func NewIssuesHandler(issueService *service.IssueService) *IssuesHandler {
	return &IssuesHandler{service: issueService, now: time.Now}
}

// Create POST /issues.
func (h *IssuesHandler) Create(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateIssueRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	details := map[string]any{}
	dueDate := parseDate(req.DueDate, "due_date", details)
	if len(details) > 0 {
		return apperrors.NewValidationError("validation failed", details)
	}

	issue, err := h.service.CreateIssue(c.UserContext(), principal, service.CreateIssueInput{
		Title:       req.Title,
		Description: req.Description,
		Difficulty:  req.Difficulty,
		DueDate:     dueDate,
		AssigneeID:  req.AssigneeID,
		Unassigned:  req.Unassigned,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewIssueResponse(issue, h.now())})
}

// Get GET /issues/:id.
func (h *IssuesHandler) Get(c *fiber.Ctx) error {
	issue, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue, h.now())})
}

// Filter GET /issues/filter?status&difficulty&page&size.
func (h *IssuesHandler) Filter(c *fiber.Ctx) error {
	details := map[string]any{}
	query := service.IssueQuery{
		Status:     c.Query("status"),
		Difficulty: c.Query("difficulty"),
		Page:       queryInt(c, "page", 0, details),
		Size:       queryInt(c, "size", 0, details),
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("validation failed", details)
	}

	page, err := h.service.Filter(c.UserContext(), query)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.IssuePageResponse{
		Items: dto.NewIssueResponses(page.Items, h.now()),
		Total: page.Total,
		Page:  page.Page,
		Size:  page.Size,
	}})
}

// Assign PUT /issues/:issueId/assign/:userId.
func (h *IssuesHandler) Assign(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	issue, err := h.service.Assign(c.UserContext(), principal, c.Params("issueId"), c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue, h.now())})
}

// Update PUT /issues/:id.
func (h *IssuesHandler) Update(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateIssueRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	details := map[string]any{}
	dueDate := parseDate(req.DueDate, "due_date", details)
	if len(details) > 0 {
		return apperrors.NewValidationError("validation failed", details)
	}

	issue, err := h.service.Update(c.UserContext(), principal, c.Params("id"), service.UpdateIssueInput{
		Title:       req.Title,
		Description: req.Description,
		Difficulty:  req.Difficulty,
		Status:      req.Status,
		DueDate:     dueDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue, h.now())})
}

// Delete DELETE /issues/:id.
func (h *IssuesHandler) Delete(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), principal, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// History GET /issues/:id/history.
func (h *IssuesHandler) History(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	entries, err := h.service.History(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueHistoryResponses(entries)})
}

// Overdue GET /issues/overdue.
func (h *IssuesHandler) Overdue(c *fiber.Ctx) error {
	issues, err := h.service.Overdue(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponses(issues, h.now())})
}

// Stats GET /issues/stats.
func (h *IssuesHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}
