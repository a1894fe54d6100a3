package ids

import (
	"github.com/google/uuid"
)

// Branded identifier types. Equality is string equality; the distinct types
// keep a NodeID from being passed where an ExecutionID is expected.
type (
	NodeID      string
	ArrowID     string
	HandleID    string
	PersonID    string
	ExecutionID string
	DiagramID   string
	ApiKeyID    string
)

func (id NodeID) String() string      { return string(id) }
func (id ArrowID) String() string     { return string(id) }
func (id HandleID) String() string    { return string(id) }
func (id PersonID) String() string    { return string(id) }
func (id ExecutionID) String() string { return string(id) }
func (id DiagramID) String() string   { return string(id) }
func (id ApiKeyID) String() string    { return string(id) }

// NewExecutionID generates a fresh execution identifier.
func NewExecutionID() ExecutionID {
	return ExecutionID("exec_" + uuid.New().String())
}

// NewDiagramID generates a fresh diagram identifier.
func NewDiagramID() DiagramID {
	return DiagramID("diagram_" + uuid.New().String())
}

// NewArrowID generates a fresh arrow identifier.
func NewArrowID() ArrowID {
	return ArrowID("arrow_" + uuid.New().String())
}
