package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ValidateStreamID checks that id has the canonical UUID form streams are
// created with.
func ValidateStreamID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("stream id is required")
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("invalid stream id format")
	}
	return nil
}

// ValidateIntRange checks lo <= v <= hi.
func ValidateIntRange(v, lo, hi int, fieldName string) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be between %d and %d", fieldName, lo, hi)
	}
	return nil
}

// ParseIntInRange parses an optional integer parameter. An empty raw value
// yields def.
func ParseIntInRange(raw string, def, lo, hi int, fieldName string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", fieldName)
	}
	if err := ValidateIntRange(v, lo, hi, fieldName); err != nil {
		return 0, err
	}
	return v, nil
}
