package handlers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\[\]#-]+)\s*\}\}`)

// interpolate substitutes {{path}} placeholders with values resolved from the
// scope via gjson path syntax. Missing paths resolve to the empty string.
func interpolate(template string, scope map[string]interface{}) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	doc, err := json.Marshal(scope)
	if err != nil {
		return template
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		result := gjson.GetBytes(doc, path)
		if !result.Exists() {
			return ""
		}
		if result.Type == gjson.String {
			return result.String()
		}
		return result.Raw
	})
}

// resolvePath reads one gjson path out of a scope, returning the decoded
// value and whether it exists.
func resolvePath(scope map[string]interface{}, path string) (interface{}, bool) {
	doc, err := json.Marshal(scope)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(doc, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// mergeScopes layers maps left to right; later maps win on key collision.
func mergeScopes(scopes ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, scope := range scopes {
		for k, v := range scope {
			out[k] = v
		}
	}
	return out
}

// asString renders any decoded value for prompt embedding.
func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
