package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BrokerPreset is a reusable set of symbol conventions for one broker, applied
// when operators pair accounts without spelling out every mapping by hand.
type BrokerPreset struct {
	Name           string            `yaml:"name"`
	SymbolPrefix   string            `yaml:"symbol_prefix"`
	SymbolSuffix   string            `yaml:"symbol_suffix"`
	SymbolMappings map[string]string `yaml:"symbol_mappings"`
}

// Presets is the parsed preset file.
type Presets struct {
	Brokers []BrokerPreset `yaml:"brokers"`
}

// LoadPresets reads broker symbol presets from a YAML file. An empty path
// yields an empty preset set.
func LoadPresets(path string) (*Presets, error) {
	if path == "" {
		return &Presets{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	for i, b := range p.Brokers {
		if b.Name == "" {
			return nil, fmt.Errorf("presets: broker %d has no name", i)
		}
	}
	return &p, nil
}

// Find returns the preset with the given name.
func (p *Presets) Find(name string) (BrokerPreset, bool) {
	for _, b := range p.Brokers {
		if b.Name == name {
			return b, true
		}
	}
	return BrokerPreset{}, false
}
