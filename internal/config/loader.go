package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, the optional YAML file at
// path, and the environment, in that order of precedence. Command line
// flags are applied by the caller, which must then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}

	if err := cfg.LoadSystemPrompt(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile merges a YAML file into the current config. Unknown keys and
// secure keys are rejected.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewConfigError("CONFIG_FILE", "failed to read config file", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return NewConfigError("CONFIG_FILE", fmt.Sprintf("failed to parse %s", path), err)
	}
	if key := secureKeyIn(&root, ""); key != "" {
		return NewConfigError(key, "must be set in the environment, not in "+path, nil)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return NewConfigError("CONFIG_FILE", fmt.Sprintf("failed to parse %s", path), err)
	}
	return nil
}

// secureKeyIn returns the environment name of the first secure key found in
// a YAML tree. A key matches either on its own (anthropic_api_key) or joined
// with its parent section (claude.api_key, mysql.password).
func secureKeyIn(node *yaml.Node, parent string) string {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			if key := secureKeyIn(child, parent); key != "" {
				return key
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := strings.ToUpper(node.Content[i].Value)
			if SecureConfigKeys[name] {
				return name
			}
			if parent != "" && SecureConfigKeys[parent+"_"+name] {
				return parent + "_" + name
			}
			if key := secureKeyIn(node.Content[i+1], name); key != "" {
				return key
			}
		}
	}
	return ""
}

// LoadSystemPrompt reads the questioner instructions from SystemPromptFile when set
func (c *Config) LoadSystemPrompt() error {
	if c.Game.SystemPromptFile == "" {
		c.Game.SystemPrompt = ""
		return nil
	}

	data, err := os.ReadFile(c.Game.SystemPromptFile)
	if err != nil {
		return NewConfigError("SYSTEM_PROMPT_FILE", "failed to read system prompt", err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return NewConfigError("SYSTEM_PROMPT_FILE", "system prompt file is empty", nil)
	}
	c.Game.SystemPrompt = prompt
	return nil
}
