package rpc

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/event"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/pkg/types"
)

// registerSessionProcedures adds the session.* query and mutation group.
func registerSessionProcedures(c *Catalog) {
	c.Register(&Procedure{
		Path: "session.getRecent",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				Directory string `json:"directory"`
				Limit     int    `json:"limit"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			sessions, err := rc.Sessions.List(ctx, in.Directory)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "list sessions", err)
			}
			sort.Slice(sessions, func(i, j int) bool {
				return sessions[i].Time.Updated > sessions[j].Time.Updated
			})
			if in.Limit > 0 && len(sessions) > in.Limit {
				sessions = sessions[:in.Limit]
			}
			return sessions, nil
		},
	})

	c.Register(&Procedure{
		Path: "session.getById",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			sess, err := rc.Sessions.Get(ctx, in.ID)
			if err != nil {
				return nil, apperror.NotFound("session %q not found", in.ID)
			}
			out := map[string]any{}
			raw, err := json.Marshal(sess)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindUnknown, "encode session", err)
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, apperror.Wrap(apperror.KindUnknown, "encode session", err)
			}
			out["modelStatus"] = provider.ModelStatusUnknown
			if rc.Providers != nil && sess.ProviderID != "" {
				out["modelStatus"] = rc.Providers.ModelStatus(ctx, sess.ProviderID, sess.ModelID)
			}
			return out, nil
		},
		Subscribe: func(ctx context.Context, rc *Context, input json.RawMessage) (<-chan Update, func(), error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := decode(input, &in); err != nil {
				return nil, nil, err
			}
			return subscribeChannel(ctx, rc, sessionChannelOf(in.ID), nil)
		},
	})

	c.Register(&Procedure{
		Path: "session.getCount",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				Directory string `json:"directory"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			sessions, err := rc.Sessions.List(ctx, in.Directory)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "list sessions", err)
			}
			return map[string]int{"count": len(sessions)}, nil
		},
	})

	c.Register(&Procedure{
		Path: "session.getLast",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				Directory string `json:"directory"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			sessions, err := rc.Sessions.List(ctx, in.Directory)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "list sessions", err)
			}
			if len(sessions) == 0 {
				return nil, apperror.NotFound("no sessions in %q", in.Directory)
			}
			last := sessions[0]
			for _, s := range sessions[1:] {
				if s.Time.Updated > last.Time.Updated {
					last = s
				}
			}
			return last, nil
		},
	})

	c.Register(&Procedure{
		Path: "session.search",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				Directory string `json:"directory"`
				Query     string `json:"query"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			sessions, err := rc.Sessions.List(ctx, in.Directory)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "list sessions", err)
			}
			out := make([]*types.Session, 0, len(sessions))
			for _, s := range sessions {
				if containsFold(s.Title, in.Query) {
					out = append(out, s)
				}
			}
			return out, nil
		},
	})

	c.Register(&Procedure{
		Path: "session.create",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				Directory string `json:"directory"`
				Title     string `json:"title"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.Directory == "" {
				in.Directory = rc.Directory
			}
			sess, err := rc.Sessions.Create(ctx, in.Directory, in.Title)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "create session", err)
			}
			event.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{Info: sess}})
			return sess, nil
		},
	})

	registerSessionUpdate(c, "session.updateTitle", func(in map[string]any) map[string]any {
		return map[string]any{"title": in["title"]}
	})
	registerSessionUpdate(c, "session.updateModel", func(in map[string]any) map[string]any {
		return map[string]any{"providerID": in["providerID"], "modelID": in["modelID"]}
	})
	registerSessionUpdate(c, "session.updateProvider", func(in map[string]any) map[string]any {
		return map[string]any{"providerID": in["providerID"]}
	})
	registerSessionUpdate(c, "session.updateAgent", func(in map[string]any) map[string]any {
		return map[string]any{"agentID": in["agentID"]}
	})
	registerSessionUpdate(c, "session.updateRules", func(in map[string]any) map[string]any {
		return map[string]any{"enabledRuleIDs": toStringSlice(in["enabledRuleIDs"])}
	})

	c.Register(&Procedure{
		Path: "session.delete",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			sess, _ := rc.Sessions.Get(ctx, in.ID)
			if err := rc.Sessions.Delete(ctx, in.ID); err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "delete session", err)
			}
			event.Publish(event.Event{Type: event.SessionDeleted, Data: event.SessionDeletedData{Info: sess}})
			return map[string]bool{"ok": true}, nil
		},
	})

	c.Register(&Procedure{
		Path: "session.compact",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			sess, err := rc.Sessions.Get(ctx, in.ID)
			if err != nil {
				return nil, apperror.NotFound("session %q not found", in.ID)
			}
			queued, err := rc.Sessions.TriggerStream(ctx, sess, "/compact", nil, nil)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindProvider, "compact session", err)
			}
			return map[string]bool{"queued": queued}, nil
		},
	})
}

// registerSessionUpdate registers a session.update* mutation that whitelists
// a small set of fields out of the raw input via project, then applies them
// through session.Service.Update.
func registerSessionUpdate(c *Catalog, path string, project func(in map[string]any) map[string]any) {
	c.Register(&Procedure{
		Path: path,
		Kind: KindMutation,
		Optimistic: &OptimisticSpec{
			Entity:      "session",
			IDFromInput: func(in map[string]any) string { s, _ := in["id"].(string); return s },
			Apply: func(draft map[string]any, in map[string]any, _ time.Time) map[string]any {
				if draft == nil {
					draft = map[string]any{}
				}
				for k, v := range project(in) {
					draft[k] = v
				}
				return draft
			},
		},
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in map[string]any
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			id, _ := in["id"].(string)
			if id == "" {
				return nil, apperror.Validation("id is required")
			}
			sess, err := rc.Sessions.Update(ctx, id, project(in))
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "update session", err)
			}
			event.Publish(event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{Info: sess}})
			return sess, nil
		},
	})
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
