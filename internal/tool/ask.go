package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/tandem-dev/tandem/pkg/types"
)

const askDescription = `Ask the user a clarifying question and wait for their answer before continuing.

Use this when a requirement is ambiguous enough that guessing wrong would waste significant work, or
when you need the user to choose between a small number of concrete options. Do not use it for things
you can reasonably infer or verify yourself by reading code.

The call blocks until the user answers through the UI, or until the turn is aborted.`

// AskBackend is the session-side collaborator the ask tool blocks on. It is
// satisfied by *internal/session.AskQueue without internal/tool importing
// internal/session.
type AskBackend interface {
	Ask(sessionID, messageID, callID, question string, options []string) types.AskRequest
	Wait(ctx context.Context, requestID string) (string, error)
}

// AskTool is the server-side tool the model calls to ask the user a
// question mid-turn. Execute blocks until a matching message.answerAsk
// mutation resolves the request, the ask is cleared by a session delete or
// compaction, or the tool call is aborted.
type AskTool struct {
	backend AskBackend
}

// NewAskTool creates the ask tool bound to a session's ask queue.
func NewAskTool(backend AskBackend) *AskTool {
	return &AskTool{backend: backend}
}

// AskInput represents the input for the ask tool.
type AskInput struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

func (t *AskTool) ID() string          { return "ask" }
func (t *AskTool) Description() string { return askDescription }

func (t *AskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {
				"type": "string",
				"description": "The question to show the user"
			},
			"options": {
				"type": "array",
				"description": "Optional short list of suggested answers to offer the user",
				"items": {"type": "string"}
			}
		},
		"required": ["question"]
	}`)
}

func (t *AskTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params AskInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Question == "" {
		return nil, fmt.Errorf("question is required")
	}

	req := t.backend.Ask(toolCtx.SessionID, toolCtx.MessageID, toolCtx.CallID, params.Question, params.Options)

	waitCtx := ctx
	if toolCtx.AbortCh != nil {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-toolCtx.AbortCh:
				cancel()
			case <-waitCtx.Done():
			}
		}()
	}

	answer, err := t.backend.Wait(waitCtx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("ask not answered: %w", err)
	}

	return &Result{
		Title:  "Asked: " + params.Question,
		Output: answer,
		Metadata: map[string]any{
			"requestID": req.ID,
			"question":  params.Question,
			"answer":    answer,
		},
	}, nil
}

func (t *AskTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
