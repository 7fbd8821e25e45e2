package profile

import (
	"strings"
)

// Validate checks the constraints a profile must satisfy before it is saved.
// topP and the other probabilities are not range-checked.
func (c Configuration) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	switch {
	case c.ContextSize <= 0:
		return ValidationError{Field: "nCtx", Reason: "must be positive"}
	case c.ThreadCount <= 0:
		return ValidationError{Field: "nThreads", Reason: "must be positive"}
	case c.BatchSize <= 0:
		return ValidationError{Field: "nBatch", Reason: "must be positive"}
	case c.TopK < 0:
		return ValidationError{Field: "topK", Reason: "must be >= 0"}
	case c.MirostatMode < 0 || c.MirostatMode > 2:
		return ValidationError{Field: "mirostat", Reason: "must be 0, 1 or 2"}
	case c.PenaltyLastN < -1:
		return ValidationError{Field: "penaltyLastN", Reason: "must be >= -1"}
	case c.DryPenaltyLastN < -1:
		return ValidationError{Field: "dryPenaltyLastN", Reason: "must be >= -1"}
	case c.DryAllowedLength < 0:
		return ValidationError{Field: "dryAllowedLength", Reason: "must be >= 0"}
	}
	return nil
}

// ValidateName rejects blank names and names that would escape the store directory.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ValidationError{Field: "name", Reason: "cannot be empty"}
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") || strings.ContainsRune(name, 0) {
		return ValidationError{Field: "name", Reason: "must not contain path separators or start with '.'"}
	}
	return nil
}
