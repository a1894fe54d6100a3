package handle

// Decl declares one handle on a node type.
type Decl struct {
	Label     string
	Direction Direction
	DataType  string
}

// Spec lists the handles a node type carries. Required handles are generated
// by the compiler when a diagram declares the node without explicit handles;
// optional handles are accepted when referenced.
type Spec struct {
	Required []Decl
	Optional []Decl
}

func (s Spec) all() []Decl {
	out := make([]Decl, 0, len(s.Required)+len(s.Optional))
	out = append(out, s.Required...)
	out = append(out, s.Optional...)
	return out
}

// Outputs returns the declared output labels for default envelope routing.
func (s Spec) Outputs() []Decl {
	var out []Decl
	for _, d := range s.all() {
		if d.Direction == DirectionOutput {
			out = append(out, d)
		}
	}
	return out
}

// Specs is the static handle table, keyed by node type. It drives both
// compile-time validation and default handle generation. The table mirrors
// the node-type catalog produced at build time; runtime never discovers
// handles by reflection.
var Specs = map[string]Spec{
	"start": {
		Required: []Decl{
			{LabelDefault, DirectionOutput, "any"},
		},
	},
	"endpoint": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
		},
	},
	"person_job": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "string"},
		},
		Optional: []Decl{
			{LabelFirst, DirectionInput, "any"},
			{LabelConversation, DirectionOutput, "conversation_state"},
		},
	},
	"condition": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelCondTrue, DirectionOutput, "any"},
			{LabelCondFalse, DirectionOutput, "any"},
		},
	},
	"code_job": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "any"},
		},
	},
	"api_job": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "object"},
		},
	},
	"db": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "any"},
		},
	},
	"sub_diagram": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "object"},
		},
	},
	"template_job": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "string"},
		},
	},
	"json_schema_validator": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "any"},
		},
	},
	"hook": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "any"},
		},
	},
	"user_response": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "string"},
		},
	},
	"typescript_ast": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "string"},
			{LabelDefault, DirectionOutput, "object"},
		},
	},
	"integrated_api": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "object"},
		},
	},
	"ir_builder": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "object"},
		},
	},
	"diff_patch": {
		Required: []Decl{
			{LabelDefault, DirectionInput, "any"},
			{LabelDefault, DirectionOutput, "object"},
		},
		Optional: []Decl{
			{"patch", DirectionInput, "object"},
		},
	},
}

// KnownNodeType reports whether the catalog declares the given type.
func KnownNodeType(nodeType string) bool {
	_, ok := Specs[nodeType]
	return ok
}
