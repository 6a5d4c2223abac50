package auth

import (
	"github.com/spec-kit/issue-service/internal/domain"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

// Allow decides whether requesterID with role may mutate a resource owned by
// ownerID. Admins may act on anything; everyone else only on what they own.
// Unowned resources are admin-only.
func Allow(requesterID string, role domain.Role, ownerID *string) bool {
	if role == domain.RoleAdmin {
		return true
	}
	return ownerID != nil && requesterID != "" && *ownerID == requesterID
}

// Authorize returns a FORBIDDEN error when principal may not act on a resource owned by ownerID.
func Authorize(principal domain.Principal, ownerID *string) error {
	if Allow(principal.UserID, principal.Role, ownerID) {
		return nil
	}
	return apperrors.NewForbidden("not allowed to modify this issue")
}

// IsOwner reports whether requesterID is the current assignee of issue.
func IsOwner(issue *domain.Issue, requesterID string) bool {
	return issue != nil && issue.AssignedTo != nil && *issue.AssignedTo == requesterID
}
