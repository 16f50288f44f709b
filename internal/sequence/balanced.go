// Package sequence generates balanced random trial orders.
package sequence

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

// Balanced returns a sequence of trialCount item indices in [0, itemCount)
// where every item occurs exactly trialCount/itemCount times.
//
// Each draw picks uniformly among the items whose quota is not yet used up.
// Nothing beyond the quota prevents an item from being drawn twice in a row.
func Balanced(rng *rand.Rand, itemCount, trialCount int) ([]int, error) {
	if itemCount <= 0 || trialCount < 0 || trialCount%itemCount != 0 {
		return nil, faults.New(faults.KindInvalidTrialCount, "sequence.balanced",
			fmt.Sprintf("items=%d trials=%d", itemCount, trialCount),
			fmt.Errorf("trial count must be a non-negative multiple of the item count"))
	}

	perItem := trialCount / itemCount
	order := make([]int, 0, trialCount)
	if perItem == 0 {
		return order, nil
	}

	available := make([]int, itemCount)
	for i := range available {
		available[i] = i
	}
	used := make([]int, itemCount)

	for len(available) > 0 {
		i := rng.IntN(len(available))
		item := available[i]
		order = append(order, item)

		used[item]++
		if used[item] == perItem {
			available = append(available[:i], available[i+1:]...)
		}
	}

	return order, nil
}

// Sequencer wraps a random source so it can be shared by the service and
// the status server.
type Sequencer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Sequencer. A nil rng seeds a fresh PCG from the runtime
// random source.
func New(rng *rand.Rand) *Sequencer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sequencer{rng: rng}
}

// NewSeeded creates a Sequencer with a reproducible order.
func NewSeeded(seed uint64) *Sequencer {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Generate is Balanced on the sequencer's random source.
func (s *Sequencer) Generate(itemCount, trialCount int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Balanced(s.rng, itemCount, trialCount)
}
