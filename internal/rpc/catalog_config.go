package rpc

import (
	"context"
	"encoding/json"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/auth"
	"github.com/tandem-dev/tandem/pkg/types"
)

// registerConfigProcedures adds the config.* group. Secrets never round-trip
// through config.load/config.save: sanitizedConfig strips them on the way
// out, and config.save only ever applies the whitelisted non-secret fields.
// A real credential is written only by config.setProviderSecret, which goes
// straight to the auth store, or by the server's PUT /auth/{providerID}.
func registerConfigProcedures(c *Catalog) {
	c.Register(&Procedure{
		Path: "config.load",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			return sanitizedConfig(rc.ConfigSnapshot()), nil
		},
	})

	c.Register(&Procedure{
		Path: "config.save",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var updates map[string]any
			if err := decode(input, &updates); err != nil {
				return nil, err
			}
			cfg := rc.ConfigSnapshot()
			if cfg == nil {
				return nil, apperror.New(apperror.KindStorage, "no config loaded")
			}
			next := *cfg
			if model, ok := updates["model"].(string); ok {
				next.Model = model
			}
			if smallModel, ok := updates["small_model"].(string); ok {
				next.SmallModel = smallModel
			}
			if theme, ok := updates["theme"].(string); ok {
				next.Theme = theme
			}
			if share, ok := updates["share"].(string); ok {
				next.Share = share
			}
			if username, ok := updates["username"].(string); ok {
				next.Username = username
			}
			if rawProviders, ok := updates["provider"].(map[string]any); ok {
				next.Provider = mergeProviderSecrets(cfg.Provider, rawProviders)
			}
			rc.SetConfig(&next)
			return sanitizedConfig(&next), nil
		},
	})

	c.Register(&Procedure{
		Path: "config.updateProviderConfig",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ProviderID string         `json:"providerID"`
				Config     map[string]any `json:"config"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.ProviderID == "" {
				return nil, apperror.Validation("providerID is required")
			}
			cfg := rc.ConfigSnapshot()
			if cfg == nil {
				return nil, apperror.New(apperror.KindStorage, "no config loaded")
			}
			next := *cfg
			next.Provider = mergeProviderSecrets(cfg.Provider, map[string]any{in.ProviderID: in.Config})
			rc.SetConfig(&next)
			return sanitizedConfig(&next), nil
		},
	})

	c.Register(&Procedure{
		Path: "config.setProviderSecret",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ProviderID string `json:"providerID"`
				APIKey     string `json:"apiKey,omitempty"`
				Access     string `json:"access,omitempty"`
				Refresh    string `json:"refresh,omitempty"`
				Expires    int64  `json:"expires,omitempty"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.ProviderID == "" {
				return nil, apperror.Validation("providerID is required")
			}
			typ := "api"
			if in.Access != "" || in.Refresh != "" {
				typ = "oauth"
			}
			if err := rc.Auth.Set(in.ProviderID, auth.Provider{
				Type:    typ,
				APIKey:  in.APIKey,
				Access:  in.Access,
				Refresh: in.Refresh,
				Expires: in.Expires,
			}); err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "store provider secret", err)
			}
			return map[string]bool{"ok": true}, nil
		},
	})

	c.Register(&Procedure{
		Path: "config.removeProvider",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ProviderID string `json:"providerID"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if err := rc.Auth.Remove(in.ProviderID); err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "remove provider secret", err)
			}
			return map[string]bool{"ok": true}, nil
		},
	})

	c.Register(&Procedure{
		Path: "config.getConnectedProviders",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			connected, err := rc.Auth.Connected()
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "list connected providers", err)
			}
			return connected, nil
		},
	})
}

// sanitizedConfig returns a shallow copy of cfg with every provider secret
// cleared, so a client can tell a provider is configured (via
// config.getConnectedProviders) without reading back the credential.
func sanitizedConfig(cfg *types.Config) *types.Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	if len(cfg.Provider) > 0 {
		out.Provider = make(map[string]types.ProviderConfig, len(cfg.Provider))
		for id, pc := range cfg.Provider {
			pc.APIKey = ""
			if pc.Options != nil {
				opts := *pc.Options
				opts.APIKey = ""
				pc.Options = &opts
			}
			out.Provider[id] = pc
		}
	}
	return &out
}

// mergeProviderSecrets applies client-submitted, non-secret provider fields
// onto the existing config, leaving apiKey/options.apiKey exactly as they
// were regardless of what the client sent.
func mergeProviderSecrets(existing map[string]types.ProviderConfig, updates map[string]any) map[string]types.ProviderConfig {
	out := make(map[string]types.ProviderConfig, len(existing))
	for id, pc := range existing {
		out[id] = pc
	}
	for id, raw := range updates {
		data, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var incoming types.ProviderConfig
		if err := json.Unmarshal(data, &incoming); err != nil {
			continue
		}
		merged := out[id]
		apiKey, options := merged.APIKey, merged.Options
		merged = incoming
		merged.APIKey = apiKey
		if incoming.Options != nil {
			opts := *incoming.Options
			opts.APIKey = ""
			if options != nil {
				opts.APIKey = options.APIKey
			}
			merged.Options = &opts
		} else {
			merged.Options = options
		}
		out[id] = merged
	}
	return out
}
