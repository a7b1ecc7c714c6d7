package anonymizer

import "errors"

// Error is a typed anonymizer failure. Kinds are matched with errors.Is
// against the sentinel values below.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Common error kinds
var (
	ErrPattern                 = &Error{Kind: "pattern_error", Message: "malformed catalog pattern", Code: 2001}
	ErrCollaboratorUnavailable = &Error{Kind: "collaborator_unavailable", Message: "collaborator unavailable", Code: 2002}
	ErrPersistence             = &Error{Kind: "persistence_failure", Message: "persistence failure", Code: 2003}
	ErrMalformedInput          = &Error{Kind: "malformed_input", Message: "malformed input", Code: 2004}
	ErrTransient               = &Error{Kind: "transient", Message: "transient collaborator failure", Code: 2005}
)
