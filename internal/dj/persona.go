package dj

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona adjusts the DJ's voice.
type Persona struct {
	Name string `yaml:"name" json:"name"`
	// Tone is inserted into the base system prompt.
	Tone string `yaml:"tone" json:"tone"`
	// SystemPrompt, when set, replaces the base prompt's introduction.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt,omitempty"`
}

const DefaultPersona = "friendly"

// BuiltinPersonas returns the personas available without any profile files.
func BuiltinPersonas() map[string]Persona {
	return map[string]Persona{
		"friendly": {
			Name: "friendly",
			Tone: "Be conversational and friendly like a real DJ.",
		},
		"professional": {
			Name: "professional",
			Tone: "Be concise and precise, like a radio program director. Skip the small talk.",
		},
		"casual": {
			Name: "casual",
			Tone: "Keep it relaxed and laid back, like a friend passing you the aux cord.",
		},
		"energetic": {
			Name: "energetic",
			Tone: "Bring high energy and hype, like a club DJ warming up the crowd.",
		},
	}
}

// LoadPersona reads a persona from a YAML file. The file name (without
// extension) is used when the file does not set a name.
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona %s: %w", path, err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing persona %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if p.Tone == "" && p.SystemPrompt == "" {
		return nil, fmt.Errorf("persona %s: tone or system_prompt is required", path)
	}
	return &p, nil
}

// LoadPersonas merges the built-in personas with every *.yaml/*.yml file in
// dir. A missing dir is not an error.
func LoadPersonas(dir string) (map[string]Persona, error) {
	personas := BuiltinPersonas()
	if dir == "" {
		return personas, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return personas, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading personas dir: %w", err)
	}

	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		p, err := LoadPersona(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		personas[p.Name] = *p
	}
	return personas, nil
}

// PersonaNames lists persona names in sorted order.
func PersonaNames(personas map[string]Persona) []string {
	names := make([]string, 0, len(personas))
	for name := range personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
