package saralmitti

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ResultField returns a single value of r addressed by a dot path over its
// JSON form, for example "soil.pH", "crops.0.name" or "timestamp".
//
// Array elements are addressed by their index. Numbers are formatted without
// trailing zeros. Objects and arrays are returned as compact JSON.
//
// Returns an error if the path is empty or does not exist.
func ResultField(r *AnalysisResult, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("field path is required")
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("failed to decode result: %w", err)
	}

	value, ok := walkJSONPath(data, strings.Split(path, "."))
	if !ok {
		return "", fmt.Errorf("field %q not found", path)
	}
	return formatJSONValue(value)
}

// walkJSONPath walks a decoded JSON structure using dot notation parts.
func walkJSONPath(data interface{}, parts []string) (interface{}, bool) {
	current := data

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func formatJSONValue(v interface{}) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case nil:
		return "null", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
