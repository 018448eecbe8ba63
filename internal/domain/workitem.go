// Package domain contains the core domain models for the coordination service.
package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an entity is not found in the database.
var ErrNotFound = errors.New("entity not found")

// ItemStatus represents the state of a work item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusZeroResult ItemStatus = "zero_result"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusBlocked    ItemStatus = "blocked"
)

// TerminalStatuses lists statuses an item never leaves through normal
// processing. Only explicit stuck-item recovery may override them.
var TerminalStatuses = []ItemStatus{
	ItemStatusCompleted,
	ItemStatusZeroResult,
	ItemStatusFailed,
	ItemStatusBlocked,
}

// IsTerminal reports whether s is a terminal status.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusZeroResult, ItemStatusFailed, ItemStatusBlocked:
		return true
	default:
		return false
	}
}

// WorkItem is one unit of claimable work (a search term, a product row).
// Ownership is advisory: (owner, lease_time) is a valid lease only while
// now - lease_time < lease timeout. Correctness depends on the atomic claim,
// not on lease possession.
type WorkItem struct {
	ID           int64      `db:"id"            json:"id"`
	RunID        string     `db:"run_id"        json:"run_id"`
	ItemKey      string     `db:"item_key"      json:"item_key"`
	Status       ItemStatus `db:"status"        json:"status"`
	Owner        *string    `db:"owner"         json:"owner,omitempty"`
	LeaseTime    *time.Time `db:"lease_time"    json:"lease_time,omitempty"`
	AttemptCount int        `db:"attempt_count" json:"attempt_count"`
	LastError    *string    `db:"last_error"    json:"last_error,omitempty"`
	Payload      []byte     `db:"payload"       json:"payload,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// RunStats holds aggregate item counts for one run.
type RunStats struct {
	Pending          int64 `json:"pending"`
	PendingAvailable int64 `json:"pending_available"` // pending with lease_time null or past
	InProgress       int64 `json:"in_progress"`
	Completed        int64 `json:"completed"`
	ZeroResult       int64 `json:"zero_result"`
	Failed           int64 `json:"failed"`
	Blocked          int64 `json:"blocked"`
}

// Total returns the total number of items in the run.
func (s *RunStats) Total() int64 {
	return s.Pending + s.InProgress + s.Completed + s.ZeroResult + s.Failed + s.Blocked
}

// Terminal returns the number of items in a terminal status.
func (s *RunStats) Terminal() int64 {
	return s.Completed + s.ZeroResult + s.Failed + s.Blocked
}

// Remaining returns the number of non-terminal items.
func (s *RunStats) Remaining() int64 {
	return s.Pending + s.InProgress
}

// TerminalFraction returns the completed fraction of the run in [0, 1].
// Returns 0 for an empty run.
func (s *RunStats) TerminalFraction() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Terminal()) / float64(total)
}
