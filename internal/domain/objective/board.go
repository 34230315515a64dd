package objective

import "github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"

// Result is one objective's current state.
type Result struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Met   bool   `json:"met"`
}

// Board is the graded state of a whole challenge.
type Board struct {
	Objectives []Result `json:"objectives"`
	Met        int      `json:"met"`
	Total      int      `json:"total"`
	Complete   bool     `json:"complete"`
}

// Grade evaluates every objective against one snapshot of the log. An empty
// objective list is complete.
func (e *Engine) Grade(objectives []Objective, events []capture.CapturedEvent) Board {
	subjects := NewSubjects(events)
	board := Board{
		Objectives: make([]Result, len(objectives)),
		Total:      len(objectives),
		Complete:   true,
	}
	for i, obj := range objectives {
		met := e.evaluate(obj, subjects)
		board.Objectives[i] = Result{ID: obj.ID, Label: obj.Label, Met: met}
		if met {
			board.Met++
		} else {
			board.Complete = false
		}
	}
	return board
}
