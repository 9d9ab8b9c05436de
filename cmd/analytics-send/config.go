package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	analytics "github.com/your-org/roadrunner-analytics-transport"
)

// fileConfig serves top-level sections of a YAML or JSONC file the way
// the RoadRunner config plugin does.
type fileConfig struct {
	sections map[string]yaml.Node
}

var _ analytics.Configurer = (*fileConfig)(nil)

// loadConfigFile reads path. An empty path yields an empty config.
// Files ending in .json or .jsonc may carry comments and trailing
// commas.
func loadConfigFile(path string) (*fileConfig, error) {
	config := &fileConfig{sections: map[string]yaml.Node{}}
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, &config.sections); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if config.sections == nil {
		config.sections = map[string]yaml.Node{}
	}
	return config, nil
}

func (c *fileConfig) Has(name string) bool {
	_, ok := c.sections[name]
	return ok
}

func (c *fileConfig) UnmarshalKey(name string, out interface{}) error {
	node, ok := c.sections[name]
	if !ok {
		return nil
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("decoding section %s: %w", name, err)
	}
	return nil
}
