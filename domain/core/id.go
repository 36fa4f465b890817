package core

import (
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Falls back to v4 if v7 fails
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

type (
	// RunID identifies one analysis of a pipeline invocation
	RunID ID
	// PipelineID identifies one pipeline invocation
	PipelineID ID
)

func (id RunID) String() string      { return ID(id).String() }
func (id PipelineID) String() string { return ID(id).String() }

// NewRunID creates a new run identifier
func NewRunID() RunID {
	return RunID(NewID())
}

// NewPipelineID creates a new pipeline identifier
func NewPipelineID() PipelineID {
	return PipelineID(NewID())
}

// ParseRunID parses a user supplied run id; generated ids are UUIDs
func ParseRunID(s string) (RunID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", NewInvalidInputError("run ID cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", NewInvalidInputError("run ID %q is not a UUID", s)
	}
	return RunID(id.String()), nil
}
