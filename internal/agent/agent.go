package agent

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the static per-agent settings a conversation engine is created
// with. It is immutable for the lifetime of one call.
type Config struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	Greeting     string `yaml:"greeting"`
	Language     string `yaml:"language"`

	VoiceProvider string `yaml:"voice_provider"`
	VoiceID       string `yaml:"voice_id"`

	LLMProvider string `yaml:"llm_provider"`
	LLMModel    string `yaml:"llm_model"`

	STTProvider string `yaml:"stt_provider"`

	// Functions lists the enabled function names; handlers not in this list
	// are never offered to the language model.
	Functions []string `yaml:"functions"`

	MaxTurns        int      `yaml:"max_turns"`
	MaxCallDuration Duration `yaml:"max_call_duration"`
}

const (
	DefaultMaxTurns        = 50
	DefaultMaxCallDuration = 15 * time.Minute
	DefaultLanguage        = "en-US"
)

// Validate normalizes the config in place and reports the first problem.
func (c *Config) Validate() error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(c.Greeting) == "" {
		return fmt.Errorf("agent %s: greeting is required", c.ID)
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("agent %s: system_prompt is required", c.ID)
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = Duration(DefaultMaxCallDuration)
	}
	if c.LLMProvider == "" {
		c.LLMProvider = "mock"
	}
	if c.VoiceProvider == "" {
		c.VoiceProvider = "mock"
	}
	if c.STTProvider == "" {
		c.STTProvider = "mock"
	}
	return nil
}

// FunctionEnabled reports whether the agent may call the named function.
func (c *Config) FunctionEnabled(name string) bool {
	for _, f := range c.Functions {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}
