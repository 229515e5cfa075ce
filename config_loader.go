package hoptrace

import (
	"github.com/arloliu/fuda"
)

// LoadConfig loads Config from a YAML or JSON file.
// Environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := fuda.LoadFile(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ParseConfig parses Config from YAML or JSON bytes (auto-detected).
// Environment variables override the parsed values.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := fuda.LoadBytes(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
