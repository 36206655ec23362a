package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON prepares raw config bytes for the strict JSON decoder.
// Files named *.yaml or *.yml are decoded and re-marshaled as JSON;
// anything else is assumed to be JSON already.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(stringKeyed(doc))
	if err != nil {
		return nil, fmt.Errorf("convert yaml to json: %w", err)
	}
	return out, nil
}

// stringKeyed rewrites YAML's interface-keyed maps so the document
// survives JSON marshaling.
func stringKeyed(v any) any {
	switch doc := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(doc))
		for k, val := range doc {
			out[fmt.Sprint(k)] = stringKeyed(val)
		}
		return out
	case map[string]any:
		for k, val := range doc {
			doc[k] = stringKeyed(val)
		}
		return doc
	case []any:
		for i, val := range doc {
			doc[i] = stringKeyed(val)
		}
		return doc
	default:
		return v
	}
}
