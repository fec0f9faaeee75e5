package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAMLOverlay reads path and unmarshals it onto cfg. yaml.Unmarshal
// only touches fields present in the document, so keys the file omits
// keep whatever value the env-derived pass already set — the file is a
// partial overlay, not a full replacement.
func LoadYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
