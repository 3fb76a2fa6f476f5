package io

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

func ReadFile(path string) (string, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading file: %w", err)
	}
	return string(bytes), nil
}

// WriteBytesToFile creates missing parent directories.
func WriteBytesToFile(path string, bytes []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, bytes, 0o644)
}

func WriteJSONFile(path string, object any) error {
	if bytes, err := json.MarshalIndent(object, "", "  "); err != nil {
		return fmt.Errorf("error marshalling object: %w", err)
	} else {
		return WriteBytesToFile(path, bytes)
	}
}

// ReadStructuredFile decodes YAML, which also accepts JSON documents.
func ReadStructuredFile(path string, object any) error {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}
	if err := yaml.Unmarshal(bytes, object); err != nil {
		return fmt.Errorf("error parsing %s: %w", path, err)
	}
	return nil
}
