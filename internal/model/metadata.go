package model

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseMetadata decodes a metadata sidecar. Files ending in .yaml or .yml are
// read as YAML, everything else as JSON. Missing fields take their defaults.
func ParseMetadata(name string, data []byte) (Metadata, error) {
	var meta Metadata

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &meta); err != nil {
			return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	def := DefaultMetadata()
	if len(meta.InputShape) == 0 {
		meta.InputShape = def.InputShape
	}
	if len(meta.OutputShape) == 0 {
		meta.OutputShape = def.OutputShape
	}
	if len(meta.Classes) == 0 {
		meta.Classes = def.Classes
	}
	if meta.ImageSize == 0 {
		meta.ImageSize = def.ImageSize
	}

	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Validate checks that the metadata describes a model this service can feed:
// a single 224x224 RGB image in, one probability out.
func (m Metadata) Validate() error {
	if !equalShape(m.InputShape, DefaultInputShape) {
		return fmt.Errorf("unsupported input shape %v, want %v", m.InputShape, DefaultInputShape)
	}
	if m.ImageSize != ImageSize {
		return fmt.Errorf("unsupported image size %d, want %d", m.ImageSize, ImageSize)
	}
	if NumElements(m.OutputShape) < 1 {
		return fmt.Errorf("invalid output shape %v", m.OutputShape)
	}
	return nil
}
