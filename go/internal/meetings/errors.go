package meetings

import "errors"

// ErrNotFound is returned when a meeting, stage or session does not exist
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when a request fails validation
var ErrValidation = errors.New("validation failed")
