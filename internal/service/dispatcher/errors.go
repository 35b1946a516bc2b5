package dispatcher

const (
	reasonNotAuthorized     = "not authorized"
	reasonAlreadyAuthorized = "already authorized"
	reasonNotMember         = "not a member of the chat"
	reasonEmptyContent      = "message content is empty"
	reasonBadCount          = "counts must be positive"
	reasonMessageNotFound   = "message not found"
)

// ValidationError is a failed precondition. The envelope is dropped without
// touching any state and Reason is returned to the sender.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func reject(reason string) error {
	return &ValidationError{Reason: reason}
}
