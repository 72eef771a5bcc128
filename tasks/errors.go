package tasks

import (
	"errors"
	"fmt"

	terrors "github.com/vinayprograms/taskvault/errors"
)

// ErrIndexStale is matched by errors returned when the task document was
// written but one or more index markers could not be updated.
var ErrIndexStale = errors.New("tasks: index markers not updated")

// IndexError carries the marker failures of an otherwise successful write.
type IndexError struct {
	TaskID string
	Err    error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("task %s saved but index not updated: %v", e.TaskID, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrIndexStale.
func (e *IndexError) Is(target error) bool {
	return target == ErrIndexStale
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return terrors.Is(err, terrors.ErrCodeNotFound)
}
