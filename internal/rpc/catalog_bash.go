package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/bashmgr"
)

// registerBashProcedures adds the bash.* group backed directly by
// internal/bashmgr.Manager; the manager already owns the single-active-slot
// and background-promotion semantics, so these resolvers are thin adapters.
func registerBashProcedures(c *Catalog) {
	c.Register(&Procedure{
		Path: "bash.execute",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				SessionID  string `json:"sessionID"`
				Command    string `json:"command"`
				Cwd        string `json:"cwd,omitempty"`
				Background bool   `json:"background,omitempty"`
				TimeoutMS  int64  `json:"timeoutMS,omitempty"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.Command == "" {
				return nil, apperror.Validation("command is required")
			}
			mode := "active"
			if in.Background {
				mode = "background"
			}
			id, err := rc.Bash.Execute(ctx, in.Command, bashmgr.ExecuteOptions{
				SessionID: in.SessionID,
				Mode:      mode,
				Cwd:       in.Cwd,
				Timeout:   time.Duration(in.TimeoutMS) * time.Millisecond,
			})
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStream, "execute shell command", err)
			}
			return map[string]string{"id": id}, nil
		},
	})

	c.Register(&Procedure{
		Path: "bash.list",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			return rc.Bash.List(), nil
		},
	})

	c.Register(&Procedure{
		Path: "bash.get",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			proc, ok := rc.Bash.Get(in.ID)
			if !ok {
				return nil, apperror.NotFound("bash process %q not found", in.ID)
			}
			return proc, nil
		},
	})

	c.Register(&Procedure{
		Path: "bash.kill",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": rc.Bash.Kill(in.ID)}, nil
		},
	})

	c.Register(&Procedure{
		Path: "bash.demote",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": rc.Bash.Demote(in.ID)}, nil
		},
	})

	c.Register(&Procedure{
		Path: "bash.promote",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": rc.Bash.Promote(ctx, in.ID)}, nil
		},
	})

	c.Register(&Procedure{
		Path: "bash.getActive",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			proc, ok := rc.Bash.GetActive()
			if !ok {
				return nil, nil
			}
			return proc, nil
		},
	})

	c.Register(&Procedure{
		Path: "bash.getActiveQueueLength",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			return map[string]int{"length": rc.Bash.GetActiveQueueLength()}, nil
		},
	})
}
