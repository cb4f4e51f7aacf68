// Package config provides configuration loading, merging, and path
// management for Tandem.
//
// # Configuration Loading
//
// Load merges configuration from multiple sources in priority order,
// lowest first:
//
//  1. Global config (~/.tandem/)
//  2. Global config (~/.config/tandem/, XDG compatible)
//  3. Project config (.tandem/ under the working directory)
//  4. TANDEM_CONFIG file, then TANDEM_CONFIG_CONTENT inline JSON
//  5. Environment variables
//  6. Stored provider credentials (the auth store)
//
// Later sources override earlier ones field by field; maps (providers,
// agents) merge by key with the later value winning per key.
//
// # Supported Formats
//
// Both tandem.json and tandem.jsonc are accepted; JSONC comments and
// trailing commas are normalized with tidwall/jsonc before decoding.
//
// # Variable Interpolation
//
// Raw config documents may embed two placeholder forms:
//   - {env:VAR_NAME} expands to the environment variable's value
//     (empty when unset)
//   - {file:path} expands to the file's contents; relative paths resolve
//     against the config file's own directory, and an unreadable file
//     leaves the placeholder in place so the miss stays visible
//
// Example:
//
//	{
//	  "provider": {
//	    "anthropic": {
//	      "options": {
//	        "apiKey": "{env:ANTHROPIC_API_KEY}"
//	      }
//	    }
//	  },
//	  "instructions": [
//	    "{file:instructions.md}"
//	  ]
//	}
//
// # Secrets
//
// Provider API keys are never written back through Save and are stripped
// from the config the API returns. The auth store (see internal/auth) is
// the only durable home for credentials; Load folds stored credentials in
// last, and only for providers that didn't already get a key from the
// environment or an explicit config file.
//
// # Path Management
//
// GetPaths returns XDG Base Directory compliant locations:
//   - Data: ~/.local/share/tandem (XDG_DATA_HOME)
//   - Config: ~/.config/tandem (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/tandem (XDG_CACHE_HOME)
//   - State: ~/.local/state/tandem (XDG_STATE_HOME)
//
// On Windows these adapt to APPDATA.
//
// # Environment Variable Overrides
//
//   - TANDEM_MODEL overrides the default model
//   - TANDEM_SMALL_MODEL overrides the small model
//   - TANDEM_CONFIG points at a specific config file
//   - TANDEM_CONFIG_CONTENT supplies inline JSON configuration
//   - Provider key variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, ...)
//     fill in credentials for providers that have none configured
//
// # Live Reload
//
// Watch observes the global and project config locations with fsnotify
// and invokes a callback with the freshly merged config after each
// settled change; the server republishes that as a change notification
// so clients can re-fetch through the sanitized load path.
package config
