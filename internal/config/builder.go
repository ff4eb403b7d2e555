package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/parleylabs/parley/internal/stats"
)

// EnvPrefix marks environment variables that override file settings.
// A double underscore separates key segments: PARLEY_ADMIN__PORT sets
// "admin.port".
const EnvPrefix = "PARLEY_"

// Builder produces the process-wide injection context.
type Builder interface {
	Build(ctx context.Context) (*Context, error)
}

// DefaultBuilder loads settings from a file (JSON, YAML or TOML by
// extension), applies environment overrides, and binds the optional
// stats collector.
type DefaultBuilder struct {
	// Path to the settings file. Empty or missing files yield defaults.
	Path string
	// Overrides are applied last, after file and environment values.
	Overrides Settings
	Logger    *slog.Logger
}

// Build implements Builder.
func (b *DefaultBuilder) Build(_ context.Context) (*Context, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settings := make(Settings)

	if b.Path != "" {
		loaded, err := loadFile(b.Path)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Info("no settings file found, using defaults", "path", b.Path)
			} else {
				return nil, fmt.Errorf("load settings: %w", err)
			}
		} else {
			settings = loaded
			logger.Info("settings loaded", "path", b.Path, "keys", len(settings))
		}
	}

	applyEnv(settings, os.Environ())

	for k, v := range b.Overrides {
		settings[k] = v
	}

	ctx := NewContext(settings)

	if settings.GetBool("stats.enabled") {
		ctx.Injector.Bind(CapCollector, stats.NewCollector())
		logger.Info("stats collector enabled")
	}

	return ctx, nil
}

func loadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	nested := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &nested); err != nil {
			return nil, fmt.Errorf("parse yaml %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &nested); err != nil {
			return nil, fmt.Errorf("parse toml %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &nested); err != nil {
			return nil, fmt.Errorf("parse json %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported settings format: %s", path)
	}

	return Flatten(nested), nil
}

// applyEnv copies PARLEY_* variables into the settings map. Segments are
// separated by a double underscore so that keys containing a single
// underscore (webhook_urls) survive the mapping.
func applyEnv(settings Settings, environ []string) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name := kv[len(EnvPrefix):eq]
		value := kv[eq+1:]
		key := strings.ToLower(strings.ReplaceAll(name, "__", "."))
		if key == "" {
			continue
		}
		settings[key] = value
	}
}
