// Package pipeline defines country scraper pipelines as ordered, resumable
// steps and drives their execution against the checkpoint manager.
package pipeline

import (
	"context"
	"fmt"
)

// StepResult is what a completed step reports: the files it produced and
// free-form metadata (row counts, upstream totals) for operators.
type StepResult struct {
	Outputs  []string
	Metadata map[string]any
}

// StepFunc executes one pipeline step.
type StepFunc func(ctx context.Context) (*StepResult, error)

// Step is one numbered stage of a pipeline. Numbers start at 1 and must be
// contiguous within a pipeline.
type Step struct {
	Number int
	Name   string
	Run    StepFunc
}

// Pipeline is a named sequence of steps, typically one per country scraper.
type Pipeline struct {
	Name  string
	Steps []Step
}

// Validate checks the step numbering.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline has no name")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", p.Name)
	}
	for i, step := range p.Steps {
		if step.Number != i+1 {
			return fmt.Errorf("pipeline %q: step %d numbered %d, steps must be contiguous from 1", p.Name, i+1, step.Number)
		}
		if step.Name == "" {
			return fmt.Errorf("pipeline %q: step %d has no name", p.Name, step.Number)
		}
		if step.Run == nil {
			return fmt.Errorf("pipeline %q: step %q has no run function", p.Name, step.Name)
		}
	}
	return nil
}
