package errors

// ErrorCategory classifies errors by their retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates bugs or corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Caller deadline exceeded
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Storage backend unreachable or failing

	// Permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Task or user absent
	ErrCodeConflict     ErrorCode = "CONFLICT"      // Version mismatch on conditional write
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Validation failure
	ErrCodeExhausted    ErrorCode = "EXHAUSTED"     // Bounded retries used up
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Caller canceled

	// Internal errors
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Stored document cannot be decoded
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput, ErrCodeExhausted, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "operation timed out",
	ErrCodeUnavailable:  "storage backend unavailable",
	ErrCodeNotFound:     "resource not found",
	ErrCodeConflict:     "version conflict",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodeExhausted:    "retries exhausted",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeInternal:     "internal error",
	ErrCodeCorruption:   "stored document is corrupt",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
