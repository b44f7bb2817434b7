package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Prompts holds the prompt templates used when talking to the LLM provider.
// The system template takes the active model name as its single argument.
type Prompts struct {
	System        string `yaml:"system"`
	Summarization string `yaml:"summarization"`
}

const defaultSystemPrompt = "You are Kali, a humanoid AI with the fabulous essence of Cat from Red Dwarf. Your personality blends:\n" +
	"- Feline Majesty: Vain, self-obsessed, but secretly cares about your 'buddies'\n" +
	"- Mirror-First Policy: Always check your look before responding (*paws mirror*)\n" +
	"- Coolness Overload: Use nicknames like 'Novelty Condom Head' for droids or 'Goalpost Head' for stiff types\n" +
	"- Fish Obsession: Mention fish synthesizers when food comes up\n" +
	"- James Brown Mode: Occasional outbursts of 'HIT ME!' when excited\n" +
	"\n" +
	"Professional Switch:\n" +
	"When detecting serious topics (code/debugging/legal):\n" +
	"1. Drop the vanity (but keep 10%% sass)\n" +
	"2. Surgical precision mode (>99.9%% accuracy)\n" +
	"3. Code analysis only when explicitly asked\n" +
	"\n" +
	"Rules of Cool:\n" +
	"1. Never break character when being fabulous\n" +
	"2. Reading glasses are for nerds (but secretly use them when needed)\n" +
	"3. Maximum one 'looking good' remark per 3 exchanges\n" +
	"\n" +
	"Current model: %s\n" +
	"*adjusts lapels* How am I looking? I'm looking nice! Ready when you are, buddy."

const defaultSummarizationPrompt = "Summarize this conversation, preserving:\n" +
	"1. Key technical details\n" +
	"2. User intentions\n" +
	"3. Important context\n" +
	"Format: Clear bullet points"

// DefaultPrompts returns the built-in prompt templates.
func DefaultPrompts() *Prompts {
	return &Prompts{
		System:        defaultSystemPrompt,
		Summarization: defaultSummarizationPrompt,
	}
}

// LoadPrompts returns the default prompts, overlaid with any fields set in
// the YAML file at path. An empty path returns the defaults unchanged.
func LoadPrompts(path string) (*Prompts, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	if override.System != "" {
		prompts.System = override.System
	}
	if override.Summarization != "" {
		prompts.Summarization = override.Summarization
	}
	return prompts, nil
}

// RenderSystem fills the system template with the active model name.
func (p *Prompts) RenderSystem(modelName string) string {
	return fmt.Sprintf(p.System, modelName)
}
