package pool

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
)

// Selector picks the session a request starts on. Implementations must be
// safe for concurrent use and only return indexes into candidates, which is
// never empty.
type Selector interface {
	Select(candidates []*Session) int
}

// RandomSelector picks uniformly at random. It keeps no shared state, so
// concurrent requests spread over the pool without coordination.
type RandomSelector struct{}

func (RandomSelector) Select(candidates []*Session) int {
	return rand.IntN(len(candidates))
}

// RoundRobinSelector cycles through the candidates.
type RoundRobinSelector struct {
	next atomic.Uint64
}

func (r *RoundRobinSelector) Select(candidates []*Session) int {
	n := r.next.Add(1) - 1
	return int(n % uint64(len(candidates)))
}

// LeastLoadedSelector picks the candidate with the fewest requests in flight,
// preferring the earliest on ties.
type LeastLoadedSelector struct{}

func (LeastLoadedSelector) Select(candidates []*Session) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].InFlight() < candidates[best].InFlight() {
			best = i
		}
	}
	return best
}

// NewSelector returns the selector registered under name.
func NewSelector(name string) (Selector, error) {
	switch name {
	case "", "random":
		return RandomSelector{}, nil
	case "round-robin":
		return &RoundRobinSelector{}, nil
	case "least-loaded":
		return LeastLoadedSelector{}, nil
	default:
		return nil, fmt.Errorf("unknown session selector: %s", name)
	}
}
