package models

import (
	"errors"
	"time"
)

// Run records one evaluation of a catalog.
type Run struct {
	ID         string
	Mode       string
	Band       string
	StartedAt  time.Time
	FinishedAt time.Time
	Scenarios  int
	Failures   int
}

// Validate checks run field constraints.
func (r *Run) Validate() error {
	if r.ID == "" {
		return errors.New("run ID must not be empty")
	}
	if r.Mode == "" {
		return errors.New("run mode must not be empty")
	}
	if r.Scenarios < 0 || r.Failures < 0 {
		return errors.New("run counters must not be negative")
	}
	if r.Failures > r.Scenarios {
		return errors.New("run failures must be <= scenarios")
	}
	if !r.FinishedAt.IsZero() && r.FinishedAt.Before(r.StartedAt) {
		return errors.New("finished at must be >= started at")
	}
	return nil
}

func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
