package config

// SecureConfigKeys are read from the environment only and never from a config file
var SecureConfigKeys = map[string]bool{
	"ANTHROPIC_API_KEY": true,
	"CLAUDE_API_KEY":    true,
	"GOOGLE_API_KEY":    true,
	"GEMINI_API_KEY":    true,
	"OPENAI_API_KEY":    true,
	"MYSQL_USERNAME":    true,
	"MYSQL_PASSWORD":    true,
}

// ConfigError represents configuration-related errors
type ConfigError struct {
	Key     string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = e.Key + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error
func NewConfigError(key, message string, cause error) *ConfigError {
	return &ConfigError{
		Key:     key,
		Message: message,
		Cause:   cause,
	}
}
