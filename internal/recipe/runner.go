package recipe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"drawbridge/internal/channel"
	"drawbridge/internal/logger"
)

// Sender issues one command and waits for its response
type Sender interface {
	Send(action string, params interface{}, timeout time.Duration) (channel.Response, error)
}

// StepResult records the outcome of one executed step
type StepResult struct {
	Step     int             `json:"step"`
	Name     string          `json:"name,omitempty"`
	Action   string          `json:"action"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Runner executes resolved recipes step by step
type Runner struct {
	sender Sender
	logger zerolog.Logger
}

// NewRunner creates a runner that sends steps through the given sender
func NewRunner(sender Sender) *Runner {
	return &Runner{
		sender: sender,
		logger: logger.Component("recipe"),
	}
}

// Run executes every step in order. A failed step stops the run unless it
// is marked continue_on_error; the results of all executed steps come back
// either way.
func (r *Runner) Run(recipe *Recipe) ([]StepResult, error) {
	results := make([]StepResult, 0, len(recipe.Steps))

	r.logger.Info().
		Str("recipe", recipe.Name).
		Int("steps", len(recipe.Steps)).
		Msg("Running recipe")

	for i, step := range recipe.Steps {
		start := time.Now()
		result := StepResult{
			Step:   i + 1,
			Name:   step.Name,
			Action: step.Action,
		}

		response, err := r.sender.Send(step.Action, step.Params, step.GetTimeout())
		result.Duration = time.Since(start)

		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = response.Success
			result.Data = response.Data
			result.Error = response.Error
		}

		results = append(results, result)

		if result.Success {
			r.logger.Info().
				Int("step", result.Step).
				Str("action", step.Action).
				Dur("duration", result.Duration).
				Msg("Step completed")
			continue
		}

		r.logger.Warn().
			Int("step", result.Step).
			Str("action", step.Action).
			Str("error", result.Error).
			Msg("Step failed")

		if !step.ContinueOnError {
			return results, fmt.Errorf("step %d (%s) failed: %s", result.Step, step.Action, result.Error)
		}
	}

	r.logger.Info().
		Str("recipe", recipe.Name).
		Int("steps", len(results)).
		Msg("Recipe finished")

	return results, nil
}
