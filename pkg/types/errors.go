package types

import "fmt"

// The error taxonomy below is shared by collaborator clients, the store, and
// the pipeline. Stages match on these to choose between degrading to the
// prior stage's output and rejecting a single write, rather than aborting a
// whole turn.

// CollaboratorError reports that an external collaborator (embedding,
// completion, store) call failed or timed out. Callers degrade and continue.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Is matches any CollaboratorError regardless of collaborator name.
func (e *CollaboratorError) Is(target error) bool {
	_, ok := target.(*CollaboratorError)
	return ok
}

// NewCollaboratorError wraps err as a collaborator failure.
func NewCollaboratorError(collaborator string, err error) *CollaboratorError {
	return &CollaboratorError{Collaborator: collaborator, Err: err}
}

// MalformedResponseError reports an unparsable collaborator response, such as
// LLM output that is not valid JSON even after repair. The stage's
// contribution is discarded; the pipeline continues.
type MalformedResponseError struct {
	Collaborator string
	Detail       string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %s", e.Collaborator, e.Detail)
}

// Is matches any MalformedResponseError.
func (e *MalformedResponseError) Is(target error) bool {
	_, ok := target.(*MalformedResponseError)
	return ok
}

// NewMalformedResponseError reports an unparsable response.
func NewMalformedResponseError(collaborator, detail string) *MalformedResponseError {
	return &MalformedResponseError{Collaborator: collaborator, Detail: detail}
}

// IntegrityError reports a write that would break referential integrity, such
// as a relation referencing a missing or invalidated entity. Only the
// offending write is rejected; the batch continues.
type IntegrityError struct {
	Kind   string // "relation", "fact"
	Ref    string // the missing reference
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s (ref %s): %s", e.Kind, e.Ref, e.Detail)
}

// Is matches any IntegrityError.
func (e *IntegrityError) Is(target error) bool {
	_, ok := target.(*IntegrityError)
	return ok
}

// ConflictError reports an optimistic-concurrency failure: the record changed
// between read and write. Callers retry a small fixed number of times against
// the current winner, then drop and log.
type ConflictError struct {
	EntityID string
	Expected int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on entity %s (expected version %d)", e.EntityID, e.Expected)
}

// Is matches any ConflictError.
func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)
	return ok
}
