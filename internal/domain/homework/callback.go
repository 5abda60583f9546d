package homework

import (
	"strings"

	"github.com/google/uuid"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// Callback data of the review keyboard: "hw:approve:<id>" / "hw:reject:<id>".
const (
	callbackPrefix = "hw"
	actionApprove  = "approve"
	actionReject   = "reject"
)

// ErrBadCallback is returned for callback data that is not a review action.
var ErrBadCallback = shared.NewDomainError("homework", "ParseCallback", shared.ErrInvalidInput, "malformed review callback")

// ApproveCallback returns the callback data of the approve button.
func ApproveCallback(id uuid.UUID) string {
	return callbackPrefix + ":" + actionApprove + ":" + id.String()
}

// RejectCallback returns the callback data of the reject button.
func RejectCallback(id uuid.UUID) string {
	return callbackPrefix + ":" + actionReject + ":" + id.String()
}

// IsReviewCallback reports whether data belongs to the review keyboard.
func IsReviewCallback(data string) bool {
	return strings.HasPrefix(data, callbackPrefix+":")
}

// ParseCallback turns review callback data into a Decision. A reject
// button carries no reason; the admin may add one with /reject.
func ParseCallback(data string) (Decision, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return nil, ErrBadCallback
	}

	id, err := uuid.Parse(parts[2])
	if err != nil {
		return nil, shared.WrapError("homework", "ParseCallback", shared.ErrInvalidInput, "bad submission id", err)
	}

	switch parts[1] {
	case actionApprove:
		return Approve{ID: id}, nil
	case actionReject:
		return Reject{ID: id}, nil
	}
	return nil, ErrBadCallback
}
