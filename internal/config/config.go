package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/tandem-dev/tandem/internal/auth"
	"github.com/tandem-dev/tandem/pkg/types"
)

// Load loads configuration from multiple sources (priority order, lowest
// first):
// 1. Global config (~/.tandem/ and ~/.config/tandem/)
// 2. Project config (.tandem/)
// 3. TANDEM_CONFIG (explicit file path) and TANDEM_CONFIG_CONTENT (inline JSON)
// 4. Environment variables
// 5. Stored credentials
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Agent:    make(map[string]types.AgentConfig),
	}

	// 1. Global config
	if home, err := os.UserHomeDir(); err == nil {
		loadConfigFile(filepath.Join(home, ".tandem", "tandem.json"), config)
		loadConfigFile(filepath.Join(home, ".tandem", "tandem.jsonc"), config)
	}
	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "tandem.json"), config)
	loadConfigFile(filepath.Join(globalPath, "tandem.jsonc"), config)

	// 2. Project config
	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".tandem", "tandem.json"), config)
		loadConfigFile(filepath.Join(directory, ".tandem", "tandem.jsonc"), config)
	}

	// 3. Explicit overrides from the environment
	if path := os.Getenv("TANDEM_CONFIG"); path != "" {
		loadConfigFile(path, config)
	}
	if content := os.Getenv("TANDEM_CONFIG_CONTENT"); content != "" {
		applyConfigBytes([]byte(content), "", config)
	}

	// 4. Environment variables
	applyEnvOverrides(config)

	// 5. Stored credentials (never read from tandem.json/jsonc so secrets
	// never round-trip through config.load/config.save).
	applyStoredCredentials(config)

	return config, nil
}

// applyStoredCredentials fills in provider API keys from the dedicated auth
// store for any provider that doesn't already have one from the environment.
func applyStoredCredentials(config *types.Config) {
	store := auth.NewStore(GetPaths().AuthPath())
	connected, err := store.Connected()
	if err != nil {
		return
	}
	for id := range connected {
		cfg := config.Provider[id]
		if cfg.APIKey != "" || (cfg.Options != nil && cfg.Options.APIKey != "") {
			continue
		}
		cred, ok, err := store.Get(id)
		if err != nil || !ok {
			continue
		}
		if cred.APIKey == "" {
			continue
		}
		cfg.APIKey = cred.APIKey
		if config.Provider == nil {
			config.Provider = make(map[string]types.ProviderConfig)
		}
		config.Provider[id] = cfg
	}
}

// loadConfigFile loads a single config file.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}
	return applyConfigBytes(data, filepath.Dir(path), config)
}

// applyConfigBytes normalizes, interpolates, decodes, and merges one config
// document. baseDir anchors relative {file:...} references; pass "" for
// inline documents with no file of their own.
func applyConfigBytes(data []byte, baseDir string, config *types.Config) error {
	// Both tandem.json and tandem.jsonc may carry comments and trailing
	// commas; normalize before decoding.
	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPlaceholder  = regexp.MustCompile(`\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)
	filePlaceholder = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate expands {env:VAR} and {file:path} placeholders in a raw
// config document. Unset env vars expand to the empty string; unreadable
// files leave the placeholder intact so the miss is visible downstream.
func interpolate(data []byte, baseDir string) []byte {
	data = envPlaceholder.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envPlaceholder.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
	data = filePlaceholder.ReplaceAllFunc(data, func(m []byte) []byte {
		rel := string(filePlaceholder.FindSubmatch(m)[1])
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return m
		}
		return []byte(strings.TrimSpace(string(content)))
	})
	return data
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Username != "" {
		target.Username = source.Username
	}
	if source.Instructions != nil {
		target.Instructions = source.Instructions
	}
	if source.Permission != nil {
		target.Permission = source.Permission
	}

	// Merge providers
	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	// Merge agents
	if source.Agent != nil {
		if target.Agent == nil {
			target.Agent = make(map[string]types.AgentConfig)
		}
		for k, v := range source.Agent {
			target.Agent[k] = v
		}
	}

	// Merge experimental config
	if source.Experimental != nil {
		target.Experimental = source.Experimental
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	// Provider API keys
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
		"bedrock":   "AWS_ACCESS_KEY_ID",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]types.ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	// Model override
	if model := os.Getenv("TANDEM_MODEL"); model != "" {
		config.Model = model
	}

	// Small model override
	if smallModel := os.Getenv("TANDEM_SMALL_MODEL"); smallModel != "" {
		config.SmallModel = smallModel
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
