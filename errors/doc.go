// Package errors provides the structured error taxonomy used at the
// boundary of every taskvault store.
//
// # Error Categories
//
// Errors are classified into three categories:
//
//   - Transient: backend or network trouble where a retry may succeed
//   - Permanent: not found, conflict, invalid input; retrying the same call will not help
//   - Internal: undecodable documents and other bugs
//
// # Error Codes
//
//   - NOT_FOUND: task or user absent
//   - CONFLICT: compare-and-swap version mismatch
//   - UNAVAILABLE: storage backend failure
//   - INVALID_INPUT: malformed status value, missing required field
//   - TIMEOUT / CANCELED: the caller's context expired
//
// # Usage
//
//	err := errors.NotFound("task SJ0042 not found", errors.WithTaskID("SJ0042"))
//
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // render 404
//	}
//
//	if errors.IsRetryable(err) {
//	    // back off and call again
//	}
//
// Errors serialize to JSON so the HTTP layer can forward them unchanged:
//
//	data, _ := json.Marshal(err)
package errors
