package diameter

import (
	"errors"
	"fmt"
)

// Session-level errors. The dispatcher distinguishes these from answer
// rejections to decide how an event aborts.
var (
	// ErrNotConnected is returned when a request is attempted while the
	// session is not in the Connected state. No network call is made.
	ErrNotConnected = errors.New("diameter session is not connected")

	// ErrRequestTimeout is returned when no answer correlates to the
	// request's Session-Id within the configured window.
	ErrRequestTimeout = errors.New("diameter request timed out")
)

// AnswerError reports a peer rejection: an answer whose Result-Code (or
// Experimental-Result-Code) is not DIAMETER_SUCCESS.
type AnswerError struct {
	Command string
	Code    uint32
}

func (e *AnswerError) Error() string {
	return fmt.Sprintf("%s rejected by peer: result code %d", e.Command, e.Code)
}

type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("AVP not in dictionary: `%s`", e.Name)
}

type ErrInvalidType struct {
	Value interface{}
	Want  string
}

func (e *ErrInvalidType) Error() string {
	return fmt.Sprintf("invalid AVP value (%v): want %s, got %T", e.Value, e.Want, e.Value)
}
