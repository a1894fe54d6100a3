package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dipeo/dipeo/common/diagram"
)

// Native reads and writes the canonical JSON domain shape: nodes, arrows,
// handles and persons as arrays.
type Native struct{}

func (Native) Name() string { return "native" }

func (Native) DeserializeToDomain(content []byte, _ string) (*diagram.DomainDiagram, error) {
	var d diagram.DomainDiagram
	dec := json.NewDecoder(bytes.NewReader(content))
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("native: decode: %w", err)
	}
	for i := range d.Nodes {
		if d.Nodes[i].Data != nil {
			d.Nodes[i].Data = expandDottedKeys(d.Nodes[i].Data)
		}
	}
	return &d, nil
}

func (Native) SerializeFromDomain(d *diagram.DomainDiagram) ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("native: encode: %w", err)
	}
	return append(out, '\n'), nil
}

func (Native) DetectConfidence(content []byte) float64 {
	trimmed := strings.TrimSpace(string(content))
	if !strings.HasPrefix(trimmed, "{") {
		return 0
	}
	score := 0.6
	if strings.Contains(trimmed, `"nodes"`) {
		score += 0.2
	}
	if strings.Contains(trimmed, `"arrows"`) {
		score += 0.2
	}
	return score
}
