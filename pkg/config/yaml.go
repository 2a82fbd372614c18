package config

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/leowmjw/go-temporal-emissions/pkg/emissions"
)

// ParseStates reads a "name: code" YAML mapping. Document order is kept.
func ParseStates(r io.Reader) ([]Entity, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode states: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("states must be a mapping of name to code")
	}

	mapping := doc.Content[0]
	entities := make([]Entity, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		name, code := mapping.Content[i], mapping.Content[i+1]
		if code.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: code for %s must be a scalar", code.Line, name.Value)
		}
		entities = append(entities, Entity{Code: code.Value, Name: name.Value})
	}
	return entities, nil
}

// ParseFactors reads a "category: {fuel: factor}" YAML mapping
func ParseFactors(r io.Reader) (emissions.FactorMap, error) {
	var factors emissions.FactorMap
	if err := yaml.NewDecoder(r).Decode(&factors); err != nil {
		return nil, fmt.Errorf("failed to decode emission factors: %w", err)
	}
	return factors, nil
}

func loadStatesFile(fsys fs.FS, name string) ([]Entity, error) {
	data, err := readFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read states file: %w", err)
	}
	return ParseStates(bytes.NewReader(data))
}

func loadFactorsFile(fsys fs.FS, name string) (emissions.FactorMap, error) {
	data, err := readFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read factors file: %w", err)
	}
	return ParseFactors(bytes.NewReader(data))
}

func readFile(fsys fs.FS, name string) ([]byte, error) {
	if filepath.IsAbs(name) {
		return os.ReadFile(name)
	}
	return fs.ReadFile(fsys, filepath.ToSlash(filepath.Clean(name)))
}
