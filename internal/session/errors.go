package session

import "errors"

// Expected, recoverable rejection conditions. They are surfaced to the
// issuing connection and never terminate the session.
var (
	ErrInvalidState       = errors.New("command not valid in current session state")
	ErrInvalidDefinition  = errors.New("test definition has no questions")
	ErrDefinitionNotFound = errors.New("stored test definition could not be resolved")
	ErrStaleQuestion      = errors.New("answer references a question that is not current")
	ErrNotAnswerable      = errors.New("answer window is not open")
	ErrAlreadyAnswered    = errors.New("participant already answered this question")
)

// RejectionCode maps a rejection to its wire error code, or "" for
// errors that are not part of the protocol taxonomy.
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidDefinition):
		return "invalid-state"
	case errors.Is(err, ErrDefinitionNotFound):
		return "not-found"
	case errors.Is(err, ErrStaleQuestion):
		return "stale-question"
	case errors.Is(err, ErrNotAnswerable):
		return "not-answerable"
	case errors.Is(err, ErrAlreadyAnswered):
		return "already-answered"
	}
	return ""
}
