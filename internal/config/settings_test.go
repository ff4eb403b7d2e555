package config

import (
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	nested := map[string]any{
		"admin": map[string]any{
			"enabled": true,
			"port":    8031,
			"webhook_urls": []any{
				"http://hooks.example",
			},
		},
		"default_label": "Agent",
	}

	flat := Flatten(nested)

	if got := flat.GetBool("admin.enabled"); !got {
		t.Errorf("admin.enabled = %v, want true", got)
	}
	if got := flat.GetInt("admin.port", 0); got != 8031 {
		t.Errorf("admin.port = %d, want 8031", got)
	}
	if got := flat.GetString("default_label"); got != "Agent" {
		t.Errorf("default_label = %q", got)
	}
	if got := flat.GetStringList("admin.webhook_urls"); !reflect.DeepEqual(got, []string{"http://hooks.example"}) {
		t.Errorf("admin.webhook_urls = %v", got)
	}
}

func TestGetters(t *testing.T) {
	s := Settings{
		"str":       "value",
		"bool_str":  "true",
		"int_str":   "42",
		"int_float": float64(7),
		"list":      []string{"a", "b"},
		"scalar":    "single",
		"nilval":    nil,
	}

	if got := s.GetStringDefault("missing", "fallback"); got != "fallback" {
		t.Errorf("GetStringDefault(missing) = %q", got)
	}
	if got := s.GetString("nilval"); got != "" {
		t.Errorf("GetString(nilval) = %q", got)
	}
	if !s.GetBool("bool_str") {
		t.Errorf("GetBool(bool_str) = false, want true")
	}
	if s.GetBool("missing") {
		t.Errorf("GetBool(missing) = true, want false")
	}
	if got := s.GetInt("int_str", 0); got != 42 {
		t.Errorf("GetInt(int_str) = %d", got)
	}
	if got := s.GetInt("int_float", 0); got != 7 {
		t.Errorf("GetInt(int_float) = %d", got)
	}
	if got := s.GetInt("str", 9); got != 9 {
		t.Errorf("GetInt(str) = %d, want default 9", got)
	}
	if got := s.GetStringList("scalar"); !reflect.DeepEqual(got, []string{"single"}) {
		t.Errorf("GetStringList(scalar) = %v", got)
	}
	if !s.Has("str") || s.Has("nilval") || s.Has("missing") {
		t.Errorf("Has misreported presence")
	}
}
