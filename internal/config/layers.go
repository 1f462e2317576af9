package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"buxton/internal/layer"
)

// LoadLayerConfig parses the INI-style layer configuration file named in
// spec §6: one section per layer, with type/backend/priority/description
// keys. Section order is preserved as insertion order, the tie-breaker
// spec's Design Notes require for cross-layer resolution (spec invariant 6,
// §9 "Layer map iteration order").
func LoadLayerConfig(path string) ([]layer.Layer, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load layer file %s: %w", path, err)
	}

	var layers []layer.Layer
	order := 0
	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}

		kindStr := section.Key("type").MustString("")
		var kind layer.Kind
		switch strings.ToLower(kindStr) {
		case "system":
			kind = layer.System
		case "user":
			kind = layer.User
		default:
			return nil, fmt.Errorf("config: layer %q has invalid type %q (want System or User)", section.Name(), kindStr)
		}

		backendID := section.Key("backend").MustString("")
		if backendID == "" {
			return nil, fmt.Errorf("config: layer %q is missing a backend", section.Name())
		}

		priority, err := section.Key("priority").Int()
		if err != nil {
			return nil, fmt.Errorf("config: layer %q has invalid priority: %w", section.Name(), err)
		}

		layers = append(layers, layer.Layer{
			Name:        section.Name(),
			Kind:        kind,
			BackendID:   backendID,
			Priority:    priority,
			Description: section.Key("description").MustString(""),
			Order:       order,
		})
		order++
	}
	return layers, nil
}
