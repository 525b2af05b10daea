package agenthub

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrConflict   = errors.New("conflict")
)

// Kind classifies the caller-facing error families. Anything outside these
// four is a system fault and must reach callers only in sanitized form.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindPermission Kind = "permission"
	KindConflict   Kind = "conflict"
)

// Stable machine-readable codes carried inside an Error.
const (
	CodeUnsafeIdentifier   = "UNSAFE_IDENTIFIER"
	CodeInvalidPath        = "INVALID_PATH"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeJSONTooDeep        = "JSON_TOO_DEEP"
	CodeProjectNotFound    = "PROJECT_NOT_FOUND"
	CodeMemberNotFound     = "MEMBER_NOT_FOUND"
	CodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	CodeMessageNotFound    = "MESSAGE_NOT_FOUND"
	CodeReadDenied         = "READ_DENIED"
	CodeWriteDenied        = "WRITE_DENIED"
	CodeDeleteDenied       = "DELETE_DENIED"
	CodeNotCreator         = "NOT_CREATOR"
	CodeProjectExists      = "PROJECT_EXISTS"
	CodeProjectArchived    = "PROJECT_ARCHIVED"
	CodeNameTaken          = "NAME_TAKEN"
	CodeEtagMismatch       = "ETAG_MISMATCH"
	CodeLockTimeout        = "LOCK_TIMEOUT"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeBroadcastPartial   = "BROADCAST_PARTIAL"
	CodeAmbiguousTarget    = "AMBIGUOUS_TARGET"
	CodeReservedField      = "RESERVED_FIELD"
	CodeConflictingContent = "CONFLICTING_CONTENT"
)

// Error is the structured caller-facing error. Details never carry internal
// paths or other environment specifics.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrPermission:
		return e.Kind == KindPermission
	case ErrConflict:
		return e.Kind == KindConflict
	}
	return false
}

func validationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func notFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func permissionError(code, message string) *Error {
	return &Error{Kind: KindPermission, Code: code, Message: message}
}

func conflictError(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// CallerError reports whether err belongs to one of the four caller-facing
// kinds. The dispatch layers use it to decide between passing an error
// through unchanged and sanitizing it.
func CallerError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
