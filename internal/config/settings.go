package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Settings is the agent's flattened configuration: nested documents are
// collapsed into dotted keys ("admin.enabled", "transport.inbound").
// Values keep the types the decoder produced (string, bool, number, list).
type Settings map[string]any

// Flatten collapses a nested map into dotted keys. List values are kept
// whole; only maps recurse.
func Flatten(nested map[string]any) Settings {
	out := make(Settings)
	flattenInto(out, "", nested)
	return out
}

func flattenInto(out Settings, prefix string, nested map[string]any) {
	for k, v := range nested {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			flattenInto(out, key, child)
		case map[any]any:
			// yaml.v3 can produce any-keyed maps for unusual documents
			converted := make(map[string]any, len(child))
			for ck, cv := range child {
				converted[fmt.Sprint(ck)] = cv
			}
			flattenInto(out, key, converted)
		default:
			out[key] = v
		}
	}
}

// GetString returns the setting as a string, or "" when absent.
func (s Settings) GetString(key string) string {
	return s.GetStringDefault(key, "")
}

// GetStringDefault returns the setting as a string, or def when absent.
func (s Settings) GetStringDefault(key, def string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// GetBool returns the setting as a bool. Strings "true"/"1" count as true.
func (s Settings) GetBool(key string) bool {
	v, ok := s[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		return err == nil && b
	default:
		return false
	}
}

// GetInt returns the setting as an int, or def when absent or unparsable.
func (s Settings) GetInt(key string, def int) int {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// GetStringList returns the setting as a list of strings. A scalar string
// is treated as a single-element list.
func (s Settings) GetStringList(key string) []string {
	v, ok := s[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{t}
	default:
		return nil
	}
}

// Has reports whether the key is present with a non-nil value.
func (s Settings) Has(key string) bool {
	v, ok := s[key]
	return ok && v != nil
}
