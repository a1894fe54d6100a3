package format

import (
	"fmt"
	"strings"

	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/ids"
)

// Strategy converts between one surface syntax and the domain diagram.
// All strategies produce the same DomainDiagram for equivalent documents.
type Strategy interface {
	Name() string
	DeserializeToDomain(content []byte, path string) (*diagram.DomainDiagram, error)
	SerializeFromDomain(d *diagram.DomainDiagram) ([]byte, error)
	// DetectConfidence scores how likely content is in this format, 0..1.
	// Called only after a successful parse during auto-detection fallback.
	DetectConfidence(content []byte) float64
}

// endpointRef is a parsed user-facing node reference: "Label", "Label[handle]"
// or "Label_handle". The handle label defaults per direction when omitted.
type endpointRef struct {
	NodeLabel   string
	HandleLabel string
	Explicit    bool // bracket syntax used; validated against Specs
}

// parseEndpointRef splits the shorthand forms used by the light and readable
// formats. "First[first]" → (First, first, explicit). "Check_condtrue" →
// (Check, condtrue). A trailing underscore segment only counts as a handle
// when it names a well-known label, so node labels containing underscores
// keep working.
func parseEndpointRef(ref string) endpointRef {
	ref = strings.TrimSpace(ref)

	if idx := strings.Index(ref, "["); idx > 0 && strings.HasSuffix(ref, "]") {
		return endpointRef{
			NodeLabel:   strings.TrimSpace(ref[:idx]),
			HandleLabel: strings.TrimSpace(ref[idx+1 : len(ref)-1]),
			Explicit:    true,
		}
	}

	if idx := strings.LastIndex(ref, "_"); idx > 0 {
		suffix := ref[idx+1:]
		switch suffix {
		case handle.LabelFirst, handle.LabelCondTrue, handle.LabelCondFalse:
			return endpointRef{NodeLabel: ref[:idx], HandleLabel: suffix}
		}
	}

	return endpointRef{NodeLabel: ref, HandleLabel: handle.LabelDefault}
}

// resolveRef turns an endpoint reference into a canonical handle ID on the
// referenced node, registering the handle on the diagram when missing.
func resolveRef(d *diagram.DomainDiagram, ref endpointRef, dir handle.Direction) (ids.HandleID, error) {
	node, ok := d.NodeByLabel(ref.NodeLabel)
	if !ok {
		return "", fmt.Errorf("format: connection references unknown node %q", ref.NodeLabel)
	}

	if ref.Explicit {
		if err := handle.ValidateBracketSyntax(ref.NodeLabel, ref.HandleLabel, node.Type, dir); err != nil {
			return "", err
		}
	}

	return d.EnsureHandle(node.ID, ref.HandleLabel, dir, "any"), nil
}

// expandDottedKeys converts flat "a.b: v" keys into nested maps, the shape
// node data uses internally (e.g. "batch.input_key" → {batch:{input_key:v}}).
func expandDottedKeys(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			v = expandDottedKeys(nested)
		}
		if !strings.Contains(k, ".") {
			out[k] = v
			continue
		}
		parts := strings.Split(k, ".")
		cur := out
		for i, part := range parts {
			if i == len(parts)-1 {
				cur[part] = v
				break
			}
			next, ok := cur[part].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				cur[part] = next
			}
			cur = next
		}
	}
	return out
}

// normalizeYAML recursively converts yaml.v3's map[interface{}]interface{}
// (and map[string]interface{} children) into plain map[string]interface{}.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}
