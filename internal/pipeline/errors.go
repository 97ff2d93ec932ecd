package pipeline

import (
	"fmt"
)

// RejectedError indicates the responder explicitly reported failure.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "responder reported failure"
	}
	return fmt.Sprintf("responder reported failure: %s", e.Message)
}

// InvalidReplyError indicates the reply text failed validation and was not
// persisted.
type InvalidReplyError struct {
	Reason string
	Reply  string
}

func (e *InvalidReplyError) Error() string {
	return fmt.Sprintf("invalid reply: %s", e.Reason)
}
