package ladderdto

// Error codes shared by the presenter and the message catalog. A code is
// looked up as "<command>.<code>" first and "error.<code>" after that.
const (
	CodeInvalid        = "invalid"
	CodeDuplicate      = "duplicate"
	CodeBusy           = "busy"
	CodeNotFound       = "not_found"
	CodeAlreadyUndone  = "already"
	CodeNotParticipant = "not_participant"
	CodeUndoExpired    = "expired"
	CodeInactive       = "inactive"
	CodeDisabled       = "disabled"
	CodeInternal       = "internal"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "ladder service error"
}
