package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"canvas.baseurl":              "canvas.baseUrl",
			"canvas.apikey":               "canvas.apiKey",
			"gradescope.baseurl":          "gradescope.baseUrl",
			"cache.coursesttlseconds":     "cache.coursesTtlSeconds",
			"cache.modulesttlseconds":     "cache.modulesTtlSeconds",
			"cache.moduleitemsttlseconds": "cache.moduleItemsTtlSeconds",
			"cache.fileurlsttlseconds":    "cache.fileUrlsTtlSeconds",
			"cache.assignmentsttlseconds": "cache.assignmentsTtlSeconds",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (CANVAS__API_KEY -> canvas.apikey).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserFor selects a koanf parser by file extension; yaml is the default.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return ktoml.Parser()
	default:
		return kyaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"listen": map[string]any{
			"address": cfg.Listen.Address,
			"port":    cfg.Listen.Port,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"canvas": map[string]any{
			"baseUrl": cfg.Canvas.BaseURL,
			"apiKey":  cfg.Canvas.APIKey,
		},
		"gradescope": map[string]any{
			"baseUrl":  cfg.Gradescope.BaseURL,
			"email":    cfg.Gradescope.Email,
			"password": cfg.Gradescope.Password,
		},
		"cache": map[string]any{
			"coursesTtlSeconds":     cfg.Cache.CoursesTTLSeconds,
			"modulesTtlSeconds":     cfg.Cache.ModulesTTLSeconds,
			"moduleItemsTtlSeconds": cfg.Cache.ModuleItemsTTLSeconds,
			"fileUrlsTtlSeconds":    cfg.Cache.FileURLsTTLSeconds,
			"assignmentsTtlSeconds": cfg.Cache.AssignmentsTTLSeconds,
		},
	}
}
