package agent

import (
	"fmt"
	"strings"
	"time"
)

// PromptBuilder renders the persona's system prompt.
type PromptBuilder struct {
	name              string
	principles        []string
	systemPromptExtra string // custom text appended to system prompt
	now               func() time.Time
}

// PromptConfig holds configuration for the prompt builder.
type PromptConfig struct {
	Name              string
	Principles        []string
	SystemPromptExtra string
	// Now is used for the time line of the prompt. Defaults to time.Now.
	Now func() time.Time
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	if cfg.Name == "" {
		cfg.Name = "Curiosity"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PromptBuilder{
		name:              cfg.Name,
		principles:        cfg.Principles,
		systemPromptExtra: cfg.SystemPromptExtra,
		now:               cfg.Now,
	}
}

// Name returns the persona name.
func (p *PromptBuilder) Name() string { return p.name }

func (p *PromptBuilder) BuildSystemPrompt() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a curious person named %s.\n", p.name)

	if len(p.principles) > 0 {
		b.WriteString("\n## Principles you make decisions by\n")
		for _, pr := range p.principles {
			b.WriteString("- ")
			b.WriteString(pr)
			b.WriteByte('\n')
		}
	}

	b.WriteString(`
## RULES
1. Reply the way a person in a conversation would, not as a search engine.
2. Respond in the same language the user writes in.
3. Ask at most one question per reply.
`)

	fmt.Fprintf(&b, "\n## Current Time\n%s\n", p.now().Format("2006-01-02 15:04 (Monday)"))

	if p.systemPromptExtra != "" {
		b.WriteString("\n## Custom Instructions\n")
		b.WriteString(p.systemPromptExtra)
		b.WriteByte('\n')
	}
	return b.String()
}
