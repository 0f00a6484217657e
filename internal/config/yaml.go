package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON returns the config file as JSON so one strict decoder
// (DisallowUnknownFields) serves both formats. .json files pass through; .yaml
// and .yml are converted; any other extension is sniffed by its first byte.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return data, nil
	case ".yaml", ".yml":
	default:
		if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '{' {
			return data, nil
		}
	}

	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if root == nil {
		return []byte("{}"), nil
	}
	root, err := jsonable(root)
	if err != nil {
		return nil, err
	}
	if _, ok := root.(map[string]any); !ok {
		return nil, errors.New("yaml: top level must be a mapping")
	}
	return json.Marshal(root)
}

// jsonable rewrites YAML maps with non-string keys (e.g. numeric chat ids used
// as keys) into string-keyed maps.
func jsonable(in any) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			nv, err := jsonable(v)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			nv, err := jsonable(v)
			if err != nil {
				return nil, err
			}
			m[fmt.Sprint(k)] = nv
		}
		return m, nil
	case []any:
		for i, v := range x {
			nv, err := jsonable(v)
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	default:
		return in, nil
	}
}
