package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const ScenarioDateLayout = "2006/01/02"

var ErrInvalidNormalization = errors.New("normalization constant must be a positive number")

// Annotation is a free-form catalog attribute carried to the output table.
type Annotation struct {
	Name  string
	Value string
}

// Scenario is one forecast to evaluate against reality.
type Scenario struct {
	Key           string
	Date          time.Time
	Endpoint      string
	Source        string
	Normalization float64
	Increasing    bool
	// Cutoff separates the history used to build baselines from the
	// evaluated window. The zero value disables both.
	Cutoff      time.Time
	Annotations []Annotation
}

// ParseScenarioKey splits a catalog key such as "2021/05/21 ICU" into its
// date and optional endpoint tag.
func ParseScenarioKey(key string) (time.Time, string, error) {
	key = strings.TrimSpace(key)
	datePart, endpoint, _ := strings.Cut(key, " ")
	date, err := time.Parse(ScenarioDateLayout, datePart)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid scenario key %q: %w", key, err)
	}
	return date, strings.TrimSpace(endpoint), nil
}

// Label is the row label used in result tables.
func (s *Scenario) Label() string {
	return "Scenario: " + s.Key
}

// Validate checks scenario field constraints.
func (s *Scenario) Validate() error {
	if s.Key == "" {
		return errors.New("scenario key must not be empty")
	}
	if s.Source == "" {
		return fmt.Errorf("scenario %s: source must not be empty", s.Key)
	}
	if err := ValidateNormalization(s.Normalization); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Key, err)
	}
	return nil
}

// ValidateNormalization rejects constants that would flip or blow up a division.
func ValidateNormalization(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("got %v: %w", v, ErrInvalidNormalization)
	}
	return nil
}
