package config

import (
	"github.com/caarlos0/env/v11"
)

// credentialAliases are the vendor names of the provider keys. When set
// they win over CLAUDE_API_KEY and GEMINI_API_KEY.
type credentialAliases struct {
	Anthropic string `env:"ANTHROPIC_API_KEY"`
	Google    string `env:"GOOGLE_API_KEY"`
}

// applyEnvironment overlays environment variables. Unset variables leave
// the current value untouched.
func (c *Config) applyEnvironment() error {
	if err := env.Parse(c); err != nil {
		return NewConfigError("", "failed to parse environment", err)
	}

	var aliases credentialAliases
	if err := env.Parse(&aliases); err != nil {
		return NewConfigError("", "failed to parse environment", err)
	}
	if aliases.Anthropic != "" {
		c.Provider.Claude.APIKey = aliases.Anthropic
	}
	if aliases.Google != "" {
		c.Provider.Gemini.APIKey = aliases.Google
	}

	return nil
}
