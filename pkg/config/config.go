// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a YAML file with environment variable expansion.
// Fields absent from the file keep the values already in target.
func Load[T any](filename string, target *T) error {
	if err := decode(filename, target); err != nil {
		return err
	}
	return validate(target)
}

// LoadLayered decodes every existing file of filenames into target in order,
// so later files override earlier ones, then validates the result once.
// Missing files are skipped unless listed in required.
func LoadLayered[T any](target *T, filenames []string, required ...string) error {
	must := make(map[string]bool, len(required))
	for _, f := range required {
		must[f] = true
	}
	for _, f := range filenames {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) && !must[f] {
			continue
		}
		if err := decode(f, target); err != nil {
			return err
		}
	}
	return validate(target)
}

func decode[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

func validate[T any](target *T) error {
	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
