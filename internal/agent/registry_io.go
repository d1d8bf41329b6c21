package agent

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/valortrade/valor/internal/config"
)

// registryFile is the on-disk shape of an exported agent registry.
type registryFile struct {
	ExportID   string              `yaml:"export_id"`
	ExportedAt time.Time           `yaml:"exported_at"`
	Agents     []registryFileEntry `yaml:"agents"`
}

type registryFileEntry struct {
	ID       string             `yaml:"id"`
	Group    string             `yaml:"group"`
	Weight   float64            `yaml:"weight,omitempty"`
	Strategy string             `yaml:"strategy"`
	Enabled  bool               `yaml:"enabled"`
	Params   map[string]float64 `yaml:"params,omitempty"`
}

// ExportYAML serializes an agent registry for editing and re-import.
func ExportYAML(configs []config.AgentConfig) ([]byte, error) {
	file := registryFile{
		ExportID:   uuid.New().String(),
		ExportedAt: time.Now().UTC(),
		Agents:     make([]registryFileEntry, 0, len(configs)),
	}
	for _, cfg := range configs {
		file.Agents = append(file.Agents, registryFileEntry{
			ID:       cfg.ID,
			Group:    cfg.Group,
			Weight:   cfg.Weight,
			Strategy: cfg.Strategy,
			Enabled:  cfg.Enabled,
			Params:   cfg.Params,
		})
	}

	var buf bytes.Buffer
	buf.WriteString("# Valor agent registry\n")
	buf.WriteString(fmt.Sprintf("# Exported: %s\n", file.ExportedAt.Format(time.RFC3339)))
	buf.WriteString(fmt.Sprintf("# Strategies: %v\n", config.ValidStrategies))

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&file); err != nil {
		return nil, fmt.Errorf("failed to encode agent registry: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize agent registry: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportYAML parses a registry file and validates that every entry builds.
func ImportYAML(data []byte) ([]config.AgentConfig, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent registry: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agent registry is empty")
	}

	configs := make([]config.AgentConfig, 0, len(file.Agents))
	for _, entry := range file.Agents {
		configs = append(configs, config.AgentConfig{
			ID:       entry.ID,
			Group:    entry.Group,
			Weight:   entry.Weight,
			Strategy: entry.Strategy,
			Enabled:  entry.Enabled,
			Params:   entry.Params,
		})
	}

	// A registry that does not build is rejected at import, not at boot.
	if _, err := BuildRegistry(configs); err != nil {
		return nil, err
	}
	return configs, nil
}
