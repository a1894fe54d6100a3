package format

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/ids"
)

// Light reads and writes the light YAML syntax: a nodes list carrying
// inline props plus a connections list with From[handle] references.
type Light struct{}

type lightDoc struct {
	Version     string                            `yaml:"version,omitempty"`
	Name        string                            `yaml:"name,omitempty"`
	Nodes       []map[string]interface{}          `yaml:"nodes"`
	Connections []lightConnection                 `yaml:"connections,omitempty"`
	Persons     map[string]map[string]interface{} `yaml:"persons,omitempty"`
}

type lightConnection struct {
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Label       string `yaml:"label,omitempty"`
	ContentType string `yaml:"content_type,omitempty"`
}

func (Light) Name() string { return "light" }

func (Light) DeserializeToDomain(content []byte, _ string) (*diagram.DomainDiagram, error) {
	var doc lightDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("light: decode: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("light: document has no nodes")
	}

	d := &diagram.DomainDiagram{}
	if doc.Name != "" {
		d.Metadata = &diagram.Metadata{Name: doc.Name}
	}

	// Persons first so node person references resolve.
	for label, raw := range doc.Persons {
		cfg := normalizeYAML(raw).(map[string]interface{})
		person := diagram.Person{
			ID:    ids.PersonID("person_" + slug(label)),
			Label: label,
		}
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

	for i, raw := range doc.Nodes {
		props := normalizeYAML(raw).(map[string]interface{})

		nodeType, _ := props["type"].(string)
		if nodeType == "" {
			return nil, fmt.Errorf("light: node %d has no type", i)
		}

		node := diagram.Node{
			ID:   ids.NodeID(fmt.Sprintf("node_%d", i)),
			Type: nodeType,
			Data: make(map[string]interface{}),
		}

		for k, v := range props {
			switch k {
			case "type":
			case "position":
				if pos, ok := v.(map[string]interface{}); ok {
					node.Position.X = toFloat(pos["x"])
					node.Position.Y = toFloat(pos["y"])
				}
			case "person":
				// person label reference → person ID
				label := fmt.Sprint(v)
				person, ok := d.PersonByLabel(label)
				if !ok {
					return nil, fmt.Errorf("light: node %d references unknown person %q", i, label)
				}
				node.Data["person"] = string(person.ID)
			default:
				node.Data[k] = v
			}
		}
		node.Data = expandDottedKeys(node.Data)
		d.Nodes = append(d.Nodes, node)
	}

	for i, conn := range doc.Connections {
		source, err := resolveRef(d, parseEndpointRef(conn.From), handle.DirectionOutput)
		if err != nil {
			return nil, fmt.Errorf("light: connection %d: %w", i, err)
		}
		target, err := resolveRef(d, parseEndpointRef(conn.To), handle.DirectionInput)
		if err != nil {
			return nil, fmt.Errorf("light: connection %d: %w", i, err)
		}
		if !diagram.ValidContentType(conn.ContentType) {
			return nil, fmt.Errorf("light: connection %d: unknown content_type %q", i, conn.ContentType)
		}
		d.Arrows = append(d.Arrows, diagram.Arrow{
			ID:          ids.ArrowID(fmt.Sprintf("arrow_%d", i)),
			Source:      source,
			Target:      target,
			Label:       conn.Label,
			ContentType: conn.ContentType,
		})
	}

	return d, nil
}

func (Light) SerializeFromDomain(d *diagram.DomainDiagram) ([]byte, error) {
	doc := lightDoc{Version: "light"}
	if d.Metadata != nil {
		doc.Name = d.Metadata.Name
	}

	for _, n := range d.Nodes {
		props := map[string]interface{}{
			"type":     n.Type,
			"position": map[string]interface{}{"x": n.Position.X, "y": n.Position.Y},
		}
		for k, v := range n.Data {
			if k == "person" {
				if person, ok := d.PersonByID(ids.PersonID(fmt.Sprint(v))); ok {
					props["person"] = person.Label
					continue
				}
			}
			props[k] = v
		}
		doc.Nodes = append(doc.Nodes, props)
	}

	for _, p := range d.Persons {
		if doc.Persons == nil {
			doc.Persons = make(map[string]map[string]interface{})
		}
		cfg := map[string]interface{}{
			"service": p.LLMConfig.Service,
			"model":   p.LLMConfig.Model,
		}
		if p.LLMConfig.APIKeyID != "" {
			cfg["api_key_id"] = string(p.LLMConfig.APIKeyID)
		}
		if p.LLMConfig.SystemPrompt != "" {
			cfg["system_prompt"] = p.LLMConfig.SystemPrompt
		}
		doc.Persons[p.Label] = cfg
	}

	for _, a := range d.Arrows {
		from, err := formatRef(d, a.Source)
		if err != nil {
			return nil, err
		}
		to, err := formatRef(d, a.Target)
		if err != nil {
			return nil, err
		}
		doc.Connections = append(doc.Connections, lightConnection{
			From:        from,
			To:          to,
			Label:       a.Label,
			ContentType: a.ContentType,
		})
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("light: encode: %w", err)
	}
	return out, nil
}

func (Light) DetectConfidence(content []byte) float64 {
	text := string(content)
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		return 0
	}
	score := 0.0
	if strings.Contains(text, "connections:") {
		score += 0.5
	}
	if strings.Contains(text, "version: light") {
		score += 0.4
	}
	if strings.Contains(text, "nodes:") {
		score += 0.2
	}
	return score
}

// formatRef renders a handle ID back to the Label[handle] shorthand,
// dropping the bracket for default handles.
func formatRef(d *diagram.DomainDiagram, h ids.HandleID) (string, error) {
	parsed, err := handle.Parse(h)
	if err != nil {
		return "", fmt.Errorf("light: %w", err)
	}
	node, ok := d.NodeByID(parsed.NodeID)
	if !ok {
		return "", fmt.Errorf("light: handle %q references unknown node", h)
	}
	if parsed.Label == handle.LabelDefault {
		return node.Label(), nil
	}
	return fmt.Sprintf("%s[%s]", node.Label(), parsed.Label), nil
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}
