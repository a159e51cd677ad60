package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8171, cfg.Listen.Port)
				require.Equal(t, "https://canvas.asu.edu", cfg.Canvas.BaseURL)
				require.Equal(t, "https://www.gradescope.com", cfg.Gradescope.BaseURL)
				require.Equal(t, 3600, cfg.Cache.CoursesTTLSeconds)
				require.False(t, cfg.Gradescope.Enabled())
			},
		},
		{
			name: "merges yaml file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "coursebridge.yaml")
				require.NoError(t, os.WriteFile(path, []byte("listen:\n  port: 9090\ncanvas:\n  apiKey: file-key\n"), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Listen.Port)
				require.Equal(t, "file-key", cfg.Canvas.APIKey)
			},
		},
		{
			name: "merges json file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "coursebridge.json")
				require.NoError(t, os.WriteFile(path, []byte(`{"cache":{"coursesTtlSeconds":60}}`), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 60, cfg.Cache.CoursesTTLSeconds)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "coursebridge.yaml")
				require.NoError(t, os.WriteFile(path, []byte("listen:\n  port: 9090\n"), 0o600))
				t.Setenv("COURSEBRIDGE_LISTEN__PORT", "9091")
				t.Setenv("COURSEBRIDGE_CANVAS__API_KEY", "env-key")
				t.Setenv("COURSEBRIDGE_GRADESCOPE__EMAIL", "student@example.edu")
				t.Setenv("COURSEBRIDGE_GRADESCOPE__PASSWORD", "hunter2")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Listen.Port)
				require.Equal(t, "env-key", cfg.Canvas.APIKey)
				require.True(t, cfg.Gradescope.Enabled())
			},
		},
		{
			name: "missing file fails",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "absent.yaml")}
			},
			wantErr: true,
		},
		{
			name: "invalid log level fails validation",
			setup: func(t *testing.T) []string {
				t.Setenv("COURSEBRIDGE_LOGGING__LEVEL", "verbose")
				return nil
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			loader := NewLoader("COURSEBRIDGE", files...)
			cfg, err := loader.Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.Listen.Port = 0
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Canvas.BaseURL = " "
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Logging.Format = "xml"
	require.Error(t, bad.Validate())
}

func TestGradescopeEnabled(t *testing.T) {
	g := GradescopeConfig{Email: "a@b.edu"}
	require.False(t, g.Enabled(), "email alone must not enable the client")
	g.Password = "pw"
	require.True(t, g.Enabled())
}

func TestCacheTTLFallback(t *testing.T) {
	c := CacheConfig{}
	require.Equal(t, 30*time.Minute, c.TTL(c.ModulesTTLSeconds, 30*time.Minute))
	c.ModulesTTLSeconds = 60
	require.Equal(t, time.Minute, c.TTL(c.ModulesTTLSeconds, 30*time.Minute))
}
