package sequence

import (
	"fmt"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

// Assignment is one cell of the locations x conditions cross product.
type Assignment struct {
	Location  int `json:"location"`
	Condition int `json:"condition"`
}

// CrossProduct enumerates every (location, condition) pair, location-major:
// index i maps to location i/conditions and condition i%conditions.
func CrossProduct(locations, conditions int) []Assignment {
	if locations <= 0 || conditions <= 0 {
		return nil
	}
	cells := make([]Assignment, 0, locations*conditions)
	for l := 0; l < locations; l++ {
		for c := 0; c < conditions; c++ {
			cells = append(cells, Assignment{Location: l, Condition: c})
		}
	}
	return cells
}

// Block is one experimental block: the cross product and the balanced order
// of indices into it.
type Block struct {
	Cells []Assignment `json:"cells"`
	Order []int        `json:"order"`
}

// Trials resolves the order into assignments.
func (b Block) Trials() []Assignment {
	out := make([]Assignment, len(b.Order))
	for i, idx := range b.Order {
		out[i] = b.Cells[idx]
	}
	return out
}

// Block builds a balanced block over locations x conditions with trialCount
// trials. trialCount must be a multiple of locations*conditions.
func (s *Sequencer) Block(locations, conditions, trialCount int) (Block, error) {
	cells := CrossProduct(locations, conditions)
	if len(cells) == 0 {
		return Block{}, faults.New(faults.KindInvalidTrialCount, "sequence.block",
			fmt.Sprintf("locations=%d conditions=%d", locations, conditions),
			fmt.Errorf("locations and conditions must be positive"))
	}
	order, err := s.Generate(len(cells), trialCount)
	if err != nil {
		return Block{}, err
	}
	return Block{Cells: cells, Order: order}, nil
}
