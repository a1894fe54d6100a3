package diagram

import (
	"fmt"

	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/ids"
)

// Node type constants. The closed catalog; the compiler rejects anything else.
const (
	NodeTypeStart               = "start"
	NodeTypeEndpoint            = "endpoint"
	NodeTypePersonJob           = "person_job"
	NodeTypeCondition           = "condition"
	NodeTypeCodeJob             = "code_job"
	NodeTypeAPIJob              = "api_job"
	NodeTypeDB                  = "db"
	NodeTypeSubDiagram          = "sub_diagram"
	NodeTypeTemplateJob         = "template_job"
	NodeTypeJSONSchemaValidator = "json_schema_validator"
	NodeTypeHook                = "hook"
	NodeTypeUserResponse        = "user_response"
	NodeTypeTypescriptAST       = "typescript_ast"
	NodeTypeIntegratedAPI       = "integrated_api"
	NodeTypeIRBuilder           = "ir_builder"
	NodeTypeDiffPatch           = "diff_patch"
)

// Arrow content type constants
const (
	ContentRawText           = "raw_text"
	ContentConversationState = "conversation_state"
	ContentObject            = "object"
	ContentVariable          = "variable"
	ContentJSON              = "json"
)

// Position is a canvas hint; execution ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a typed unit of work in a diagram. Data carries the type-specific
// payload, validated against the node type's schema at compile time.
type Node struct {
	ID       ids.NodeID             `json:"id"`
	Type     string                 `json:"type"`
	Position Position               `json:"position"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Label returns the user-facing label from Data, falling back to the ID.
func (n *Node) Label() string {
	if n.Data != nil {
		if label, ok := n.Data["label"].(string); ok && label != "" {
			return label
		}
	}
	return string(n.ID)
}

// Arrow is a directed edge between two handles.
type Arrow struct {
	ID          ids.ArrowID            `json:"id"`
	Source      ids.HandleID           `json:"source"`
	Target      ids.HandleID           `json:"target"`
	ContentType string                 `json:"content_type,omitempty"`
	Label       string                 `json:"label,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Handle is an addressable port on a node.
type Handle struct {
	ID        ids.HandleID     `json:"id"`
	NodeID    ids.NodeID       `json:"node_id"`
	Label     string           `json:"label"`
	Direction handle.Direction `json:"direction"`
	DataType  string           `json:"data_type,omitempty"`
	Position  string           `json:"position,omitempty"`
}

// LLMConfig is a person's model binding.
type LLMConfig struct {
	Service      string       `json:"service"`
	Model        string       `json:"model"`
	APIKeyID     ids.ApiKeyID `json:"api_key_id,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
}

// Person is an LLM agent identity referenced by person_job nodes.
type Person struct {
	ID        ids.PersonID `json:"id"`
	Label     string       `json:"label"`
	LLMConfig LLMConfig    `json:"llm_config"`
}

// Metadata carries diagram-level annotations.
type Metadata struct {
	ID          ids.DiagramID `json:"id,omitempty"`
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Version     string        `json:"version,omitempty"`
	Author      string        `json:"author,omitempty"`
}

// DomainDiagram is the serialization-neutral diagram shape every importer
// produces. Ordering of the slices is preserved from the source document.
type DomainDiagram struct {
	Nodes    []Node    `json:"nodes"`
	Arrows   []Arrow   `json:"arrows"`
	Handles  []Handle  `json:"handles"`
	Persons  []Person  `json:"persons"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// NodeByID looks up a node.
func (d *DomainDiagram) NodeByID(id ids.NodeID) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// NodeByLabel resolves a user-facing label to a node. Labels are how the
// light and readable formats reference nodes.
func (d *DomainDiagram) NodeByLabel(label string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].Label() == label {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// HandleByID looks up a handle.
func (d *DomainDiagram) HandleByID(id ids.HandleID) (*Handle, bool) {
	for i := range d.Handles {
		if d.Handles[i].ID == id {
			return &d.Handles[i], true
		}
	}
	return nil, false
}

// PersonByID looks up a person.
func (d *DomainDiagram) PersonByID(id ids.PersonID) (*Person, bool) {
	for i := range d.Persons {
		if d.Persons[i].ID == id {
			return &d.Persons[i], true
		}
	}
	return nil, false
}

// PersonByLabel resolves a person label reference to the person.
func (d *DomainDiagram) PersonByLabel(label string) (*Person, bool) {
	for i := range d.Persons {
		if d.Persons[i].Label == label {
			return &d.Persons[i], true
		}
	}
	return nil, false
}

// StartNodes returns all start nodes.
func (d *DomainDiagram) StartNodes() []*Node {
	var starts []*Node
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeTypeStart {
			starts = append(starts, &d.Nodes[i])
		}
	}
	return starts
}

// ValidContentType reports whether s is a known arrow content type.
func ValidContentType(s string) bool {
	switch s {
	case "", ContentRawText, ContentConversationState, ContentObject, ContentVariable, ContentJSON:
		return true
	}
	return false
}

// EnsureHandle returns the existing handle or appends a generated one.
func (d *DomainDiagram) EnsureHandle(nodeID ids.NodeID, label string, dir handle.Direction, dataType string) ids.HandleID {
	id := handle.Create(nodeID, label, dir)
	if _, ok := d.HandleByID(id); ok {
		return id
	}
	d.Handles = append(d.Handles, Handle{
		ID:        id,
		NodeID:    nodeID,
		Label:     label,
		Direction: dir,
		DataType:  dataType,
	})
	return id
}

// String implements fmt.Stringer for debugging.
func (d *DomainDiagram) String() string {
	name := ""
	if d.Metadata != nil {
		name = d.Metadata.Name
	}
	return fmt.Sprintf("diagram(%s: %d nodes, %d arrows)", name, len(d.Nodes), len(d.Arrows))
}
