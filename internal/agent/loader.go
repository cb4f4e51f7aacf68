package agent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// agentFrontmatter is the YAML block at the top of an agent markdown file.
// The body below the frontmatter becomes the agent's prompt.
type agentFrontmatter struct {
	Description string          `yaml:"description"`
	Mode        string          `yaml:"mode"`
	Model       string          `yaml:"model"`
	Temperature float64         `yaml:"temperature"`
	TopP        float64         `yaml:"top_p"`
	Color       string          `yaml:"color"`
	Tools       map[string]bool `yaml:"tools"`
}

var frontmatterDelim = []byte("---")

// LoadFromDir reads every *.md file in dir and registers it as an agent
// named after the file. Files without a frontmatter block are treated as
// prompt-only agents. A missing directory is not an error.
func (r *Registry) LoadFromDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read agent dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read agent file %s: %w", path, err)
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		agent, err := parseAgentFile(name, data)
		if err != nil {
			return fmt.Errorf("parse agent file %s: %w", path, err)
		}
		r.Register(agent)
	}
	return nil
}

// parseAgentFile splits an agent markdown file into its YAML frontmatter
// and prompt body.
func parseAgentFile(name string, data []byte) (*Agent, error) {
	agent := &Agent{
		Name:  name,
		Mode:  ModePrimary,
		Tools: make(map[string]bool),
	}

	body := data
	if bytes.HasPrefix(bytes.TrimLeft(data, "\n"), frontmatterDelim) {
		trimmed := bytes.TrimLeft(data, "\n")
		rest := trimmed[len(frontmatterDelim):]
		end := bytes.Index(rest, append([]byte("\n"), frontmatterDelim...))
		if end < 0 {
			return nil, fmt.Errorf("unterminated frontmatter")
		}
		var fm agentFrontmatter
		if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
			return nil, fmt.Errorf("frontmatter: %w", err)
		}
		body = rest[end+len(frontmatterDelim)+1:]

		agent.Description = fm.Description
		if fm.Mode != "" {
			agent.Mode = Mode(fm.Mode)
		}
		if fm.Model != "" {
			if ref := parseModelRef(fm.Model); ref != nil {
				agent.Model = ref
			}
		}
		agent.Temperature = fm.Temperature
		agent.TopP = fm.TopP
		agent.Color = fm.Color
		for k, v := range fm.Tools {
			agent.Tools[k] = v
		}
	}

	agent.Prompt = strings.TrimSpace(string(body))
	return agent, nil
}

// parseModelRef parses "provider/model" into a ModelRef.
func parseModelRef(s string) *ModelRef {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil
	}
	return &ModelRef{ProviderID: parts[0], ModelID: parts[1]}
}
