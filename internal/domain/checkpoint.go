package domain

import "time"

// RunStatus represents the overall state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepRecord is the persisted completion record for one pipeline step.
// Steps are tracked independently: completing step N does not require
// step N-1 to be complete, so operators can re-order or skip steps.
type StepRecord struct {
	RunID       string         `db:"run_id"       json:"run_id"`
	StepNumber  int            `db:"step_number"  json:"step_number"`
	StepName    string         `db:"step_name"    json:"step_name"`
	Completed   bool           `db:"completed"    json:"completed"`
	StartedAt   *time.Time     `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS  *int64         `db:"duration_ms"  json:"duration_ms,omitempty"`
	Outputs     []string       `db:"-"            json:"outputs,omitempty"`
	Metadata    map[string]any `db:"-"            json:"metadata,omitempty"`
}

// Duration returns the recorded step duration, or zero if not recorded.
func (s *StepRecord) Duration() time.Duration {
	if s.DurationMS == nil {
		return 0
	}
	return time.Duration(*s.DurationMS) * time.Millisecond
}

// RunTiming summarises the recorded timings of one pipeline run.
type RunTiming struct {
	RunID         string                   `json:"run_id"`
	TotalDuration time.Duration            `json:"total_duration"`
	SlowestStep   string                   `json:"slowest_step"`
	PerStep       map[string]time.Duration `json:"per_step"`
}
