package dispatch

import (
	"fmt"

	"popgenval/internal/model"
)

// Task is one replicate of one scenario. Index is unique within a run.
type Task struct {
	Index     int            `json:"index"`
	Replicate int            `json:"replicate"`
	Scenario  model.Scenario `json:"scenario"`
	Seeds     model.SeedPair `json:"seeds"`
}

// BuildTasks expands scenarios into replicates, scenario-major, consuming
// one seed pair per task.
func BuildTasks(scenarios []model.Scenario, replicates int, seeds []model.SeedPair) ([]Task, error) {
	if replicates <= 0 {
		return nil, fmt.Errorf("replicates must be > 0, got %d", replicates)
	}
	want := len(scenarios) * replicates
	if len(seeds) != want {
		return nil, fmt.Errorf("need %d seed pairs for %d scenarios x %d replicates, got %d", want, len(scenarios), replicates, len(seeds))
	}
	tasks := make([]Task, 0, want)
	for _, sc := range scenarios {
		for r := 0; r < replicates; r++ {
			idx := len(tasks)
			tasks = append(tasks, Task{Index: idx, Replicate: r, Scenario: sc, Seeds: seeds[idx]})
		}
	}
	return tasks, nil
}
