package redom

import (
	"fmt"
	"strings"
)

// VersionConflictError reports a failed optimistic concurrency check.
// Expected/Actual are nil when the script could not read the side.
type VersionConflictError struct {
	Expected *int64
	Actual   *int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict (expected %s, actual %s)",
		formatVersion(e.Expected), formatVersion(e.Actual))
}

func (e *VersionConflictError) Is(target error) bool {
	_, ok := target.(*VersionConflictError)
	return ok
}

func formatVersion(v *int64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *v)
}

// NotFoundError reports that the mutation target does not exist.
type NotFoundError struct {
	EntityID string
}

func (e *NotFoundError) Error() string {
	if e.EntityID == "" {
		return "entity not found"
	}
	return fmt.Sprintf("entity %q not found", e.EntityID)
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// AlreadyExistsError reports a create against an occupied key.
type AlreadyExistsError struct {
	EntityID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("entity %q already exists", e.EntityID)
}

func (e *AlreadyExistsError) Is(target error) bool {
	_, ok := target.(*AlreadyExistsError)
	return ok
}

// UniqueConstraintError reports that a unique lookup value is owned by a
// different entity. It is not retriable without changing the data.
type UniqueConstraintError struct {
	Fields           []string
	Values           []string
	ExistingEntityID string
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("unique constraint violation: fields [%s] with values [%s] already exist on entity %q",
		strings.Join(e.Fields, ", "), strings.Join(e.Values, ", "), e.ExistingEntityID)
}

func (e *UniqueConstraintError) Is(target error) bool {
	_, ok := target.(*UniqueConstraintError)
	return ok
}

// InvalidRequestError reports malformed input to a repository or search
// operation.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Message
}

func (e *InvalidRequestError) Is(target error) bool {
	_, ok := target.(*InvalidRequestError)
	return ok
}

func invalidRequestf(format string, args ...any) error {
	return &InvalidRequestError{Message: fmt.Sprintf(format, args...)}
}

// ValidationIssue is one failed rule on one field.
type ValidationIssue struct {
	Field   string
	Code    string
	Message string
}

// ValidationError aggregates the pre-flight validation failures of a plan.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", issue.Field, issue.Message, issue.Code))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

func validationSingle(field, code, message string) *ValidationError {
	return &ValidationError{Issues: []ValidationIssue{{Field: field, Code: code, Message: message}}}
}

// ScriptError carries an error kind the scripts report that has no
// dedicated client type: invalid_payload, version_read_failed,
// unknown_operation, internal_error.
type ScriptError struct {
	Kind    string
	Message string
}

func (e *ScriptError) Error() string {
	if e.Message == "" {
		return "script error: " + e.Kind
	}
	return fmt.Sprintf("script error: %s: %s", e.Kind, e.Message)
}

func (e *ScriptError) Is(target error) bool {
	t, ok := target.(*ScriptError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}
