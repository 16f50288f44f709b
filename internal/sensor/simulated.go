package sensor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

// SimulatedMax is the exclusive upper bound of simulated readings, in degrees.
const SimulatedMax = 135

// simulatedSource emits random integer angles in [0, SimulatedMax).
type simulatedSource struct {
	mu       sync.Mutex
	rng      *rand.Rand
	pace     time.Duration
	commands []byte
}

// NewSimulatedSource returns a Source producing random readings. pace is the
// delay before each line; zero emits lines immediately. A nil rng is seeded
// randomly.
func NewSimulatedSource(rng *rand.Rand, pace time.Duration) Source {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	slog.Warn("Angle sensor is simulated, readings are random")
	return &simulatedSource{rng: rng, pace: pace}
}

func (s *simulatedSource) Name() string {
	return "simulated"
}

func (s *simulatedSource) Flush() error {
	return nil
}

func (s *simulatedSource) ReadLine(ctx context.Context) (string, error) {
	if err := sleepCtx(ctx, s.pace); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return strconv.Itoa(s.rng.IntN(SimulatedMax)), nil
}

func (s *simulatedSource) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.commands = append(s.commands, p...)
	s.mu.Unlock()
	return len(p), nil
}

func (s *simulatedSource) Close() error {
	return nil
}
