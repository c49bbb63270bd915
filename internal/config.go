package internal

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nous/internal/realm"
	pkgconfig "github.com/starford/nous/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// ConfigFileName is the optional per-realm config file inside the metadata directory.
const ConfigFileName = "config.yaml"

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Realm RealmConfig       `yaml:"realm"`
	Lock  LockConfig        `yaml:"lock"`
	Watch WatchConfig       `yaml:"watch"`
	Auth  AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Realm.Validate(); err != nil {
		return err
	}
	if err := c.Lock.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RealmConfig selects which files are nodes and how they are scanned.
type RealmConfig struct {
	Extensions       []string `yaml:"extensions"`
	DefaultExtension string   `yaml:"default_extension"`
	Ignore           []string `yaml:"ignore"`
	Workers          int      `yaml:"workers"`
}

// Validate validates the realm configuration.
func (c *RealmConfig) Validate() error {
	for i, e := range c.Extensions {
		c.Extensions[i] = strings.ToLower(strings.TrimPrefix(e, "."))
	}
	c.DefaultExtension = strings.ToLower(strings.TrimPrefix(c.DefaultExtension, "."))
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.Required)),
		validation.Field(&c.DefaultExtension, validation.Required),
		validation.Field(&c.Workers, validation.Min(0), validation.Max(256)),
	); err != nil {
		return err
	}
	for _, e := range c.Extensions {
		if e == c.DefaultExtension {
			return c.validIgnore()
		}
	}
	return fmt.Errorf("realm: default_extension %q is not one of extensions %v", c.DefaultExtension, c.Extensions)
}

func (c *RealmConfig) validIgnore() error {
	for _, pat := range c.Ignore {
		if _, err := path.Match(pat, ""); err != nil {
			return fmt.Errorf("realm: ignore pattern %q: %w", pat, err)
		}
	}
	return nil
}

// LockConfig bounds the wait for the realm lock.
type LockConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the lock configuration.
func (c *LockConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// WatchConfig controls how filesystem events are coalesced.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required, validation.Min(time.Millisecond)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// RealmOptions translates the configuration into realm options.
func (c *Config) RealmOptions(logger *slog.Logger) []realm.Option {
	return []realm.Option{
		realm.WithExtensions(c.Realm.Extensions...),
		realm.WithDefaultExtension(c.Realm.DefaultExtension),
		realm.WithIgnore(c.Realm.Ignore...),
		realm.WithWorkers(c.Realm.Workers),
		realm.WithLockTimeout(c.Lock.Timeout),
		realm.WithLogger(logger),
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelWarn,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Realm: RealmConfig{
			Extensions:       append([]string(nil), realm.DefaultExtensions...),
			DefaultExtension: "md",
		},
		Lock: LockConfig{
			Timeout: 5 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

// LoadConfig layers the defaults, the realm's own config file under root (when
// root is non-empty and the file exists) and the explicit file (when given,
// which must exist).
func LoadConfig(root, explicit string) (*Config, error) {
	cfg := NewDefaultConfig()
	var files []string
	if root != "" {
		files = append(files, filepath.Join(root, realm.MetaDir, ConfigFileName))
	}
	if explicit != "" {
		files = append(files, explicit)
	}
	if err := pkgconfig.LoadLayered(cfg, files, explicit); err != nil {
		return nil, err
	}
	return cfg, nil
}
