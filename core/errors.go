package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID     = errors.New("comic id must be a positive integer")
	ErrInvalidQuery  = errors.New("query must be between 1 and 100 characters")
	ErrNotFound      = errors.New("comic not found")
	ErrNilDependency = errors.New("comic service: nil dependency")
)

// UpstreamError reports an upstream request that failed with anything other
// than a plain 404 for a specific comic: unexpected HTTP status, transport
// failure, or an undecodable body.
type UpstreamError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream: %v", e.Err)
	}
	return fmt.Sprintf("upstream: unexpected status: %s", e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
