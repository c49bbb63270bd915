package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/starford/nous/internal/realm"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if !slices.Equal(cfg.Realm.Extensions, realm.DefaultExtensions) {
		t.Errorf("extensions = %v, want %v", cfg.Realm.Extensions, realm.DefaultExtensions)
	}
}

func TestRealmConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     RealmConfig
		wantErr string
	}{
		{"normalizes", RealmConfig{Extensions: []string{".MD", "txt"}, DefaultExtension: ".md"}, ""},
		{"no extensions", RealmConfig{DefaultExtension: "md"}, "extensions"},
		{"default not listed", RealmConfig{Extensions: []string{"txt"}, DefaultExtension: "md"}, "not one of"},
		{"bad ignore", RealmConfig{Extensions: []string{"md"}, DefaultExtension: "md", Ignore: []string{"[a-"}}, "ignore pattern"},
		{"negative workers", RealmConfig{Extensions: []string{"md"}, DefaultExtension: "md", Workers: -1}, "workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				if tc.cfg.Extensions[0] != "md" || tc.cfg.DefaultExtension != "md" {
					t.Errorf("not normalized: %+v", tc.cfg)
				}
				return
			}
			if err == nil || !strings.Contains(strings.ToLower(err.Error()), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfig_Layers(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, realm.MetaDir), 0o755); err != nil {
		t.Fatal(err)
	}
	realmFile := filepath.Join(root, realm.MetaDir, ConfigFileName)
	if err := os.WriteFile(realmFile, []byte("realm:\n  extensions: [md, org]\n  ignore: [\"drafts\"]\nlock:\n  timeout: 2s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NOUS_TEST_PORT", "9191")
	explicit := filepath.Join(t.TempDir(), "override.yaml")
	if err := os.WriteFile(explicit, []byte("app:\n  log_level: debug\n  http:\n    port: ${NOUS_TEST_PORT}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(root, explicit)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !slices.Equal(cfg.Realm.Extensions, []string{"md", "org"}) || !slices.Equal(cfg.Realm.Ignore, []string{"drafts"}) {
		t.Errorf("realm = %+v", cfg.Realm)
	}
	if cfg.Lock.Timeout != 2*time.Second {
		t.Errorf("lock timeout = %v, want 2s", cfg.Lock.Timeout)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9191 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Watch.Debounce != 300*time.Millisecond {
		t.Errorf("debounce = %v, want default", cfg.Watch.Debounce)
	}
}

func TestLoadConfig_MissingExplicitFails(t *testing.T) {
	if _, err := LoadConfig(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing explicit config should fail")
	}
	if _, err := LoadConfig(t.TempDir(), ""); err != nil {
		t.Errorf("missing realm config should be skipped: %v", err)
	}
}
