package engine

import "github.com/google/uuid"

// newJobSuffix returns a fresh identifier used to namespace a job's staging
// directory so concurrent compositions never collide.
func newJobSuffix() string {
	return uuid.NewString()
}
