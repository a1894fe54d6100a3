package handle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dipeo/dipeo/common/ids"
)

// Direction of a handle relative to its node.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Well-known handle labels. Node types may declare additional labels in Specs.
const (
	LabelDefault      = "default"
	LabelFirst        = "first"
	LabelCondTrue     = "condtrue"
	LabelCondFalse    = "condfalse"
	LabelConversation = "conversation"
)

var (
	ErrUnknownDirection = errors.New("handle: unknown direction")
	ErrEmptyHandleID    = errors.New("handle: empty handle id")
	ErrMalformedID      = errors.New("handle: malformed handle id")
)

// Create encodes the canonical internal handle ID: "{nodeID}_{label}_{direction}".
func Create(nodeID ids.NodeID, label string, direction Direction) ids.HandleID {
	return ids.HandleID(fmt.Sprintf("%s_%s_%s", nodeID, label, direction))
}

// Parsed is the decomposed form of a handle ID.
type Parsed struct {
	NodeID    ids.NodeID
	Label     string
	Direction Direction
}

// Parse decodes a canonical handle ID. The last underscore-separated token is
// the direction, the second-to-last the label; everything before (rejoined on
// "_") is the node ID. Parse(Create(n, l, d)) == (n, l, d) for valid triples.
func Parse(h ids.HandleID) (Parsed, error) {
	if h == "" {
		return Parsed{}, ErrEmptyHandleID
	}

	parts := strings.Split(string(h), "_")
	if len(parts) < 3 {
		return Parsed{}, fmt.Errorf("%w: %q", ErrMalformedID, h)
	}

	direction := Direction(parts[len(parts)-1])
	if direction != DirectionInput && direction != DirectionOutput {
		return Parsed{}, fmt.Errorf("%w: %q in %q", ErrUnknownDirection, direction, h)
	}

	label := parts[len(parts)-2]
	nodeID := strings.Join(parts[:len(parts)-2], "_")
	if nodeID == "" || label == "" {
		return Parsed{}, fmt.Errorf("%w: %q", ErrMalformedID, h)
	}

	return Parsed{
		NodeID:    ids.NodeID(nodeID),
		Label:     label,
		Direction: direction,
	}, nil
}

// ExtractNodeID returns the node ID portion of a handle ID, or "" when the
// handle does not parse.
func ExtractNodeID(h ids.HandleID) ids.NodeID {
	parsed, err := Parse(h)
	if err != nil {
		return ""
	}
	return parsed.NodeID
}

// ValidateBracketSyntax checks an explicit "Label[handle]" reference from an
// imported diagram against the node type's declared handles. Unknown labels
// fail loudly at import rather than surfacing as a dangling edge at runtime.
func ValidateBracketSyntax(nodeLabel, handleLabel, nodeType string, direction Direction) error {
	spec, ok := Specs[nodeType]
	if !ok {
		return fmt.Errorf("handle: node %q has unknown type %q", nodeLabel, nodeType)
	}

	for _, decl := range spec.all() {
		if decl.Label == handleLabel && decl.Direction == direction {
			return nil
		}
	}

	return fmt.Errorf("handle: node %q (%s) declares no %s handle %q",
		nodeLabel, nodeType, direction, handleLabel)
}
