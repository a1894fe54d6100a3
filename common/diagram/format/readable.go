package format

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/ids"
)

// Readable reads and writes the readable YAML syntax: node headings of the
// form "Label @(x,y)" and an English-like flow section.
type Readable struct{}

type readableDoc struct {
	Version string                            `yaml:"version"`
	Name    string                            `yaml:"name,omitempty"`
	Nodes   []map[string]interface{}          `yaml:"nodes"`
	Flow    []map[string]interface{}          `yaml:"flow,omitempty"`
	Persons map[string]map[string]interface{} `yaml:"persons,omitempty"`
}

var (
	nodeHeadingRe = regexp.MustCompile(`^(.*?)\s*@\(\s*(-?[\d.]+)\s*,\s*(-?[\d.]+)\s*\)$`)
	flowToRe      = regexp.MustCompile(`to\s+"([^"]+)"`)
	flowInRe      = regexp.MustCompile(`in\s+"([^"]+)"`)
	flowAsRe      = regexp.MustCompile(`as\s+"([^"]+)"`)
	flowNamingRe  = regexp.MustCompile(`naming\s+"([^"]+)"`)
)

func (Readable) Name() string { return "readable" }

func (r Readable) DeserializeToDomain(content []byte, _ string) (*diagram.DomainDiagram, error) {
	var doc readableDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("readable: decode: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("readable: document has no nodes")
	}

	d := &diagram.DomainDiagram{}
	if doc.Name != "" {
		d.Metadata = &diagram.Metadata{Name: doc.Name}
	}

	for label, raw := range doc.Persons {
		cfg := normalizeYAML(raw).(map[string]interface{})
		person := diagram.Person{ID: ids.PersonID("person_" + slug(label)), Label: label}
		if s, ok := cfg["service"].(string); ok {
			person.LLMConfig.Service = s
		}
		if s, ok := cfg["model"].(string); ok {
			person.LLMConfig.Model = s
		}
		if s, ok := cfg["api_key_id"].(string); ok {
			person.LLMConfig.APIKeyID = ids.ApiKeyID(s)
		}
		if s, ok := cfg["system_prompt"].(string); ok {
			person.LLMConfig.SystemPrompt = s
		}
		d.Persons = append(d.Persons, person)
	}

	for i, entry := range doc.Nodes {
		if len(entry) != 1 {
			return nil, fmt.Errorf("readable: node %d must have exactly one heading", i)
		}
		for heading, raw := range entry {
			label, pos := parseHeading(heading)
			props, _ := normalizeYAML(raw).(map[string]interface{})
			if props == nil {
				props = map[string]interface{}{}
			}

			nodeType, _ := props["type"].(string)
			if nodeType == "" {
				return nil, fmt.Errorf("readable: node %q has no type", label)
			}

			node := diagram.Node{
				ID:       ids.NodeID(fmt.Sprintf("node_%d", i)),
				Type:     nodeType,
				Position: pos,
				Data:     map[string]interface{}{"label": label},
			}
			for k, v := range props {
				switch k {
				case "type":
				case "person":
					personLabel := fmt.Sprint(v)
					person, ok := d.PersonByLabel(personLabel)
					if !ok {
						return nil, fmt.Errorf("readable: node %q references unknown person %q", label, personLabel)
					}
					node.Data["person"] = string(person.ID)
				default:
					node.Data[k] = v
				}
			}
			node.Data = expandDottedKeys(node.Data)
			d.Nodes = append(d.Nodes, node)
		}
	}

	arrowSeq := 0
	for i, entry := range doc.Flow {
		for sourceLabel, destSpec := range entry {
			if err := r.parseFlowEntry(d, sourceLabel, destSpec, &arrowSeq); err != nil {
				return nil, fmt.Errorf("readable: flow %d: %w", i, err)
			}
		}
	}

	return d, nil
}

// parseFlowEntry handles the three destination shapes: a bare string, a list
// of strings, or a map of source handle label to destination.
func (r Readable) parseFlowEntry(d *diagram.DomainDiagram, sourceLabel string, destSpec interface{}, seq *int) error {
	switch dest := normalizeYAML(destSpec).(type) {
	case string:
		return r.addFlowArrow(d, sourceLabel, handle.LabelDefault, dest, seq)
	case []interface{}:
		for _, item := range dest {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("flow destination must be a string, got %T", item)
			}
			if err := r.addFlowArrow(d, sourceLabel, handle.LabelDefault, s, seq); err != nil {
				return err
			}
		}
		return nil
	case map[string]interface{}:
		for handleLabel, sub := range dest {
			switch s := sub.(type) {
			case string:
				if err := r.addFlowArrow(d, sourceLabel, handleLabel, s, seq); err != nil {
					return err
				}
			case []interface{}:
				for _, item := range s {
					str, ok := item.(string)
					if !ok {
						return fmt.Errorf("flow destination must be a string, got %T", item)
					}
					if err := r.addFlowArrow(d, sourceLabel, handleLabel, str, seq); err != nil {
						return err
					}
				}
			default:
				return fmt.Errorf("unsupported flow destination %T", sub)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported flow entry %T", destSpec)
	}
}

// addFlowArrow resolves one "Source → dest" flow line. dest is either a bare
// node label or the annotated form `to "X" in "handle" as "content" naming "l"`.
func (Readable) addFlowArrow(d *diagram.DomainDiagram, sourceLabel, sourceHandle, dest string, seq *int) error {
	targetLabel := dest
	targetHandle := handle.LabelDefault
	contentType := ""
	arrowLabel := ""

	if m := flowToRe.FindStringSubmatch(dest); m != nil {
		targetLabel = m[1]
		if m := flowInRe.FindStringSubmatch(dest); m != nil {
			targetHandle = m[1]
		}
		if m := flowAsRe.FindStringSubmatch(dest); m != nil {
			contentType = m[1]
		}
		if m := flowNamingRe.FindStringSubmatch(dest); m != nil {
			arrowLabel = m[1]
		}
	}

	sourceNode, ok := d.NodeByLabel(sourceLabel)
	if !ok {
		return fmt.Errorf("unknown source node %q", sourceLabel)
	}
	targetNode, ok := d.NodeByLabel(targetLabel)
	if !ok {
		return fmt.Errorf("unknown target node %q", targetLabel)
	}
	if !diagram.ValidContentType(contentType) {
		return fmt.Errorf("unknown content type %q", contentType)
	}

	source := d.EnsureHandle(sourceNode.ID, sourceHandle, handle.DirectionOutput, "any")
	target := d.EnsureHandle(targetNode.ID, targetHandle, handle.DirectionInput, "any")

	d.Arrows = append(d.Arrows, diagram.Arrow{
		ID:          ids.ArrowID(fmt.Sprintf("arrow_%d", *seq)),
		Source:      source,
		Target:      target,
		ContentType: contentType,
		Label:       arrowLabel,
	})
	*seq++
	return nil
}

func (Readable) SerializeFromDomain(d *diagram.DomainDiagram) ([]byte, error) {
	doc := readableDoc{Version: "readable"}
	if d.Metadata != nil {
		doc.Name = d.Metadata.Name
	}

	for _, n := range d.Nodes {
		heading := fmt.Sprintf("%s @(%g,%g)", n.Label(), n.Position.X, n.Position.Y)
		props := map[string]interface{}{"type": n.Type}
		for k, v := range n.Data {
			if k == "label" {
				continue
			}
			if k == "person" {
				if person, ok := d.PersonByID(ids.PersonID(fmt.Sprint(v))); ok {
					props["person"] = person.Label
					continue
				}
			}
			props[k] = v
		}
		doc.Nodes = append(doc.Nodes, map[string]interface{}{heading: props})
	}

	for _, p := range d.Persons {
		if doc.Persons == nil {
			doc.Persons = make(map[string]map[string]interface{})
		}
		cfg := map[string]interface{}{"service": p.LLMConfig.Service, "model": p.LLMConfig.Model}
		if p.LLMConfig.APIKeyID != "" {
			cfg["api_key_id"] = string(p.LLMConfig.APIKeyID)
		}
		if p.LLMConfig.SystemPrompt != "" {
			cfg["system_prompt"] = p.LLMConfig.SystemPrompt
		}
		doc.Persons[p.Label] = cfg
	}

	for _, a := range d.Arrows {
		src, err := handle.Parse(a.Source)
		if err != nil {
			return nil, fmt.Errorf("readable: %w", err)
		}
		dst, err := handle.Parse(a.Target)
		if err != nil {
			return nil, fmt.Errorf("readable: %w", err)
		}
		srcNode, ok := d.NodeByID(src.NodeID)
		if !ok {
			return nil, fmt.Errorf("readable: arrow %s has unknown source node", a.ID)
		}
		dstNode, ok := d.NodeByID(dst.NodeID)
		if !ok {
			return nil, fmt.Errorf("readable: arrow %s has unknown target node", a.ID)
		}

		dest := dstNode.Label()
		if dst.Label != handle.LabelDefault || a.ContentType != "" || a.Label != "" {
			var b strings.Builder
			fmt.Fprintf(&b, "to %q", dstNode.Label())
			if dst.Label != handle.LabelDefault {
				fmt.Fprintf(&b, " in %q", dst.Label)
			}
			if a.ContentType != "" {
				fmt.Fprintf(&b, " as %q", a.ContentType)
			}
			if a.Label != "" {
				fmt.Fprintf(&b, " naming %q", a.Label)
			}
			dest = b.String()
		}

		var entry map[string]interface{}
		if src.Label == handle.LabelDefault {
			entry = map[string]interface{}{srcNode.Label(): dest}
		} else {
			entry = map[string]interface{}{srcNode.Label(): map[string]interface{}{src.Label: dest}}
		}
		doc.Flow = append(doc.Flow, entry)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("readable: encode: %w", err)
	}
	return out, nil
}

func (Readable) DetectConfidence(content []byte) float64 {
	text := string(content)
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		return 0
	}
	score := 0.0
	if strings.Contains(text, "version: readable") {
		score += 0.6
	}
	if strings.Contains(text, "flow:") {
		score += 0.3
	}
	if strings.Contains(text, "@(") {
		score += 0.2
	}
	return score
}

func parseHeading(heading string) (string, diagram.Position) {
	if m := nodeHeadingRe.FindStringSubmatch(heading); m != nil {
		return strings.TrimSpace(m[1]), diagram.Position{X: parseF(m[2]), Y: parseF(m[3])}
	}
	return strings.TrimSpace(heading), diagram.Position{}
}

func parseF(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%g", &f)
	return f
}
