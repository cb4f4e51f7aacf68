// Package session provides session management functionality.
package session

import (
	"context"

	"github.com/tandem-dev/tandem/internal/event"
	"github.com/tandem-dev/tandem/internal/storage"
	"github.com/tandem-dev/tandem/pkg/types"
)

// GetTodos retrieves todos for a session.
func GetTodos(ctx context.Context, store *storage.Storage, sessionID string) ([]types.TodoInfo, error) {
	var todos []types.TodoInfo
	err := store.Get(ctx, []string{"todo", sessionID}, &todos)
	if err == storage.ErrNotFound {
		return []types.TodoInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return todos, nil
}

// UpdateTodos replaces a session's todo list atomically and publishes an
// event. The consolidated session status picks the change up through
// WatchTodoStatus rather than a direct publish here, so the todo signal
// goes through the same precedence synthesis as every other status source.
func UpdateTodos(ctx context.Context, store *storage.Storage, sessionID string, todos []types.TodoInfo) error {
	if err := store.Put(ctx, []string{"todo", sessionID}, todos); err != nil {
		return err
	}
	event.Publish(event.Event{
		Type: event.TodoUpdated,
		Data: map[string]any{
			"sessionID": sessionID,
			"todos":     todos,
		},
	})
	return nil
}

// WatchTodoStatus subscribes the tracker to todo updates so the session's
// consolidated status reflects the in-progress todo's activeForm (which
// takes precedence over the tool/thinking signal). Returns an unsubscribe
// function.
func WatchTodoStatus(t *StatusTracker) func() {
	return event.Subscribe(event.TodoUpdated, func(e event.Event) {
		sessionID, todos, ok := todoEventPayload(e)
		if !ok {
			return
		}
		form, _ := activeTodoForm(todos)
		t.Todo(sessionID, form)
	})
}

// todoEventPayload extracts the session id and todo list from either
// payload shape a todo.updated event is published with.
func todoEventPayload(e event.Event) (string, []types.TodoInfo, bool) {
	switch d := e.Data.(type) {
	case map[string]any:
		sessionID, _ := d["sessionID"].(string)
		todos, _ := d["todos"].([]types.TodoInfo)
		return sessionID, todos, sessionID != ""
	case event.TodoUpdatedData:
		todos := make([]types.TodoInfo, 0, len(d.Todos))
		for _, t := range d.Todos {
			todos = append(todos, types.TodoInfo{
				Content:    t.Content,
				ActiveForm: t.ActiveForm,
				Status:     t.Status,
			})
		}
		return d.SessionID, todos, d.SessionID != ""
	}
	return "", nil, false
}

// activeTodoForm returns the activeForm of the first in-progress todo,
// falling back to its content when no present-continuous form was given.
func activeTodoForm(todos []types.TodoInfo) (string, bool) {
	for _, t := range todos {
		if t.Status != types.TodoStatusInProgress {
			continue
		}
		if t.ActiveForm != "" {
			return t.ActiveForm, true
		}
		return t.Content, true
	}
	return "", false
}
