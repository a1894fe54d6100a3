package format

import (
	"fmt"
	"strings"

	"github.com/dipeo/dipeo/common/diagram"
)

// strategies in quick-match priority order.
func strategies() []Strategy {
	return []Strategy{Native{}, Readable{}, Light{}}
}

// ByName returns the strategy for an explicit format name.
func ByName(name string) (Strategy, error) {
	for _, s := range strategies() {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("format: unknown format %q", name)
}

// ForPath picks a strategy from a file extension, nil when ambiguous.
func ForPath(path string) Strategy {
	switch {
	case strings.HasSuffix(path, ".json"):
		return Native{}
	case strings.HasSuffix(path, ".light.yaml"), strings.HasSuffix(path, ".light.yml"):
		return Light{}
	case strings.HasSuffix(path, ".readable.yaml"), strings.HasSuffix(path, ".readable.yml"):
		return Readable{}
	}
	return nil
}

// Detect auto-detects the format and deserializes. Telltale tokens are tried
// first; when ambiguous, each strategy parses the content and the highest
// confidence above 0.5 wins.
func Detect(content []byte, path string) (*diagram.DomainDiagram, Strategy, error) {
	if s := ForPath(path); s != nil {
		d, err := s.DeserializeToDomain(content, path)
		if err != nil {
			return nil, nil, err
		}
		return d, s, nil
	}

	// Quick match on unambiguous tokens.
	text := string(content)
	switch {
	case strings.HasPrefix(strings.TrimSpace(text), "{"):
		d, err := Native{}.DeserializeToDomain(content, path)
		if err != nil {
			return nil, nil, err
		}
		return d, Native{}, nil
	case strings.Contains(text, "version: readable"):
		d, err := Readable{}.DeserializeToDomain(content, path)
		if err != nil {
			return nil, nil, err
		}
		return d, Readable{}, nil
	case strings.Contains(text, "connections:") && !strings.Contains(text, "flow:"):
		d, err := Light{}.DeserializeToDomain(content, path)
		if err != nil {
			return nil, nil, err
		}
		return d, Light{}, nil
	}

	// Parse + score fallback.
	var (
		best       Strategy
		bestScore  float64
		bestResult *diagram.DomainDiagram
	)
	for _, s := range strategies() {
		d, err := s.DeserializeToDomain(content, path)
		if err != nil {
			continue
		}
		if score := s.DetectConfidence(content); score > bestScore {
			best, bestScore, bestResult = s, score, d
		}
	}
	if best == nil || bestScore <= 0.5 {
		return nil, nil, fmt.Errorf("format: could not detect diagram format")
	}
	return bestResult, best, nil
}
