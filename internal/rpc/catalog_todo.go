package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/session"
	"github.com/tandem-dev/tandem/pkg/types"
)

// registerTodoProcedures adds the todo.update mutation: patch one item of a
// session's todo list in place, identified by its wire id.
func registerTodoProcedures(c *Catalog) {
	c.Register(&Procedure{
		Path: "todo.update",
		Kind: KindMutation,
		Optimistic: &OptimisticSpec{
			Entity:      "todo",
			IDFromInput: func(in map[string]any) string { id, _ := in["id"].(string); return id },
			Apply: func(draft map[string]any, in map[string]any, _ time.Time) map[string]any {
				if draft == nil {
					draft = map[string]any{}
				}
				for _, k := range []string{"content", "status", "activeForm"} {
					if v, ok := in[k]; ok {
						draft[k] = v
					}
				}
				return draft
			},
		},
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				SessionID  string  `json:"sessionID"`
				ID         string  `json:"id"`
				Content    *string `json:"content,omitempty"`
				Status     *string `json:"status,omitempty"`
				ActiveForm *string `json:"activeForm,omitempty"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.SessionID == "" || in.ID == "" {
				return nil, apperror.Validation("sessionID and id are required")
			}

			todos, err := session.GetTodos(ctx, rc.Storage, in.SessionID)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "load todos", err)
			}

			found := false
			for i := range todos {
				if todos[i].ID != in.ID {
					continue
				}
				found = true
				if in.Content != nil {
					todos[i].Content = *in.Content
				}
				if in.Status != nil {
					todos[i].Status = *in.Status
					if *in.Status == types.TodoStatusCompleted {
						now := time.Now().UnixMilli()
						todos[i].CompletedAt = &now
					}
				}
				if in.ActiveForm != nil {
					todos[i].ActiveForm = *in.ActiveForm
				}
				break
			}
			if !found {
				return nil, apperror.NotFound("todo %q not found in session %q", in.ID, in.SessionID)
			}

			if err := session.UpdateTodos(ctx, rc.Storage, in.SessionID, todos); err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "save todos", err)
			}
			return todos, nil
		},
	})
}
