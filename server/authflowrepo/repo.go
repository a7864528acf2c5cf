package authflowrepo

import (
	"errors"
	"time"
)

var (
	ErrEmptyState    = errors.New("state cannot be empty")
	ErrStateNotFound = errors.New("state not found")
)

// AuthFlowState is what /connect remembers about a consent redirect until the
// provider calls back with the same state.
type AuthFlowState struct {
	ReturnURL string
	CreatedAt time.Time
}

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	// Take returns the state and removes it, so a state redeems at most once.
	Take(state string) (*AuthFlowState, error)
	// Prune removes states created before cutoff and reports how many went.
	Prune(cutoff time.Time) int
}
