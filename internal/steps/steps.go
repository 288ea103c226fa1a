// Package steps runs multi-stage flows one task at a time, threading a state
// map from each task to the next.
package steps

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"dexflow/logger"
)

// ErrInvalidTask is returned before anything runs when an item has no task.
var ErrInvalidTask = errors.New("step has no task")

// State is the accumulator handed from one task to the next.
type State map[string]any

// Task runs one step. A nil returned state keeps the current one.
type Task func(ctx context.Context, state State) (State, error)

type Item struct {
	Description string
	Task        Task
}

// Step describes one stage of the plan to progress observers.
type Step struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProgressObserver is called before each task with its index and the
// whole plan.
type ProgressObserver func(index int, steps []Step)

// Plan returns the step descriptors for items. Steps are named by index.
func Plan(items []Item) []Step {
	out := make([]Step, len(items))
	for i, it := range items {
		out[i] = Step{Name: strconv.Itoa(i), Description: it.Description}
	}
	return out
}

// Run executes items in order. The first failing task stops the run and its
// error is returned together with the state reached so far.
func Run(ctx context.Context, items []Item, observer ProgressObserver) (State, error) {
	for i, it := range items {
		if it.Task == nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, it.Description, ErrInvalidTask)
		}
	}

	log := logger.GetLogger().WithComponent("steps")
	state := State{}
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("step %d (%s): %w", i, it.Description, err)
		}
		if observer != nil {
			observer(i, Plan(items))
		}

		next, err := it.Task(ctx, state)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"step": i, "description": it.Description}).Warn("step failed")
			return state, fmt.Errorf("step %d (%s): %w", i, it.Description, err)
		}
		if len(next) > 0 {
			state = next
		}
	}
	return state, nil
}
