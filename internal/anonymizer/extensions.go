package anonymizer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExtensionFile is the YAML layout of an optional catalog extension file.
type ExtensionFile struct {
	Patterns []ExtensionPattern `yaml:"patterns"`
}

// ExtensionPattern either adds context keywords to an existing entity type
// (Regex empty) or defines a new entity type.
type ExtensionPattern struct {
	EntityType     string   `yaml:"entity_type"`
	Regex          string   `yaml:"regex,omitempty"`
	BaseConfidence float64  `yaml:"base_confidence,omitempty"`
	Context        []string `yaml:"context,omitempty"`
}

// ParseExtensionFile parses extension YAML bytes.
func ParseExtensionFile(data []byte) (*ExtensionFile, error) {
	var ef ExtensionFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("parsing extension YAML: %w", err)
	}
	return &ef, nil
}

// LoadExtensionFile reads an extension file. A missing file yields nil.
func LoadExtensionFile(path string) (*ExtensionFile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading extension file %s: %w", path, err)
	}
	return ParseExtensionFile(data)
}

// ApplyExtensions merges ext into base. Built-in regexes and validators
// cannot be overridden; an extension that names an existing type with a
// regex is rejected.
func ApplyExtensions(base []PatternSpec, ext *ExtensionFile) ([]PatternSpec, error) {
	out := make([]PatternSpec, len(base))
	copy(out, base)
	if ext == nil {
		return out, nil
	}

	index := make(map[EntityType]int, len(out))
	for i, spec := range out {
		index[spec.Type] = i
	}

	for _, p := range ext.Patterns {
		t := EntityType(p.EntityType)
		if t == "" {
			return nil, &Error{Kind: ErrPattern.Kind, Code: ErrPattern.Code,
				Message: "extension pattern without entity_type"}
		}

		if i, exists := index[t]; exists {
			if p.Regex != "" {
				return nil, &Error{Kind: ErrPattern.Kind, Code: ErrPattern.Code,
					Message: fmt.Sprintf("extension cannot replace built-in regex for %s", t)}
			}
			spec := out[i]
			spec.Context = append(append([]string(nil), spec.Context...), p.Context...)
			out[i] = spec
			continue
		}

		if p.Regex == "" {
			return nil, &Error{Kind: ErrPattern.Kind, Code: ErrPattern.Code,
				Message: fmt.Sprintf("extension for new type %s needs a regex", t)}
		}
		index[t] = len(out)
		out = append(out, PatternSpec{
			Type:           t,
			Regex:          p.Regex,
			Context:        p.Context,
			BaseConfidence: p.BaseConfidence,
		})
	}
	return out, nil
}
