package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when the shared secret is missing or wrong.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRunInProgress is returned when another pass holds the run lock.
	ErrRunInProgress = errors.New("fusion pass already in progress")

	// ErrClusterNotFound is returned by cluster lookups for unknown IDs.
	ErrClusterNotFound = errors.New("cluster not found")

	// ErrNothingLinked means every candidate signal was claimed by another
	// cluster before this merge could link it.
	ErrNothingLinked = errors.New("no candidate signals could be linked")
)

// FetchError means the unclustered signal set could not be read. It aborts the
// pass before any write happens.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch unclustered signals: %v", e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// CandidateError is a failure while merging a single candidate. It is
// recorded and the pass moves on to the next candidate.
type CandidateError struct {
	Candidate string
	Err       error
}

func (e *CandidateError) Error() string { return fmt.Sprintf("%s: %v", e.Candidate, e.Err) }

func (e *CandidateError) Unwrap() error { return e.Err }
