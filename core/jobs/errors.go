package jobs

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError lists the job request fields that are missing or invalid.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job request: %s", strings.Join(e.Fields, ", "))
}

// ErrResourceLost reports that a job's stall was freed or handed to another
// holder before the job could use it.
var ErrResourceLost = errors.New("stall no longer bound to job")
