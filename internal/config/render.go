package config

import (
	"fmt"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// Map returns the config as nested sections keyed like the config file,
// with secrets masked.
func (c *Config) Map() map[string]any {
	v := viper.New()
	for key, value := range settings(c.Redacted()) {
		v.Set(key, value)
	}
	return v.AllSettings()
}

// YAML renders the redacted config in config file form.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Map())
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}
