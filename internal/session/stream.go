package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/tandem-dev/tandem/internal/event"
	"github.com/tandem-dev/tandem/internal/logging"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/pkg/types"
)

// firstEventTimeout bounds how long processStream waits for the provider
// to emit its first streamed chunk. A stuck connection that never sends
// anything would otherwise hang the turn (and the retry loop around it)
// indefinitely; providers that are actually working respond in well under
// this window.
const firstEventTimeout = 45 * time.Second

// recvResult is one outcome of a stream.Recv() call, shuttled off the
// dedicated goroutine that waits on it so the caller can race it against
// firstEventTimeout without blocking forever on a stuck provider.
type recvResult struct {
	msg *schema.Message
	err error
}

// processStream processes events from the LLM stream, opening a Step for
// the round-trip at the start and closing it out with the final usage and
// finish reason once the provider stops sending chunks.
func (p *Processor) processStream(
	ctx context.Context,
	stream *provider.CompletionStream,
	state *sessionState,
	callback ProcessCallback,
) (finishReason string, streamErr error) {
	var currentTextPart *types.TextPart
	var currentReasoningPart *types.ReasoningPart
	currentToolParts := make(map[string]*types.ToolPart)
	var accumulatedContent string
	accumulatedToolInputs := make(map[string]string)
	titleScanner := NewInlineActionScanner()

	step := p.openStep(ctx, state)
	defer func() {
		p.finalizeStep(ctx, state, step, finishReason, streamErr)
	}()

	logging.Debug().Str("sessionID", state.message.SessionID).Str("stepID", step.ID).Msg("stream: starting to receive chunks")
	chunkCount := 0
	var lastChunkTime time.Time
	var lastEventTime time.Time // For throttling event publishing

	recvCh := make(chan recvResult, 1)
	go func() {
		msg, err := stream.Recv()
		recvCh <- recvResult{msg: msg, err: err}
	}()
	firstChunk := true

	for {
		var res recvResult
		if firstChunk {
			select {
			case res = <-recvCh:
			case <-time.After(firstEventTimeout):
				logging.Warn().Str("sessionID", state.message.SessionID).Dur("timeout", firstEventTimeout).
					Msg("stream: no first chunk received within timeout")
				return "error", fmt.Errorf("provider did not emit a first stream event within %s", firstEventTimeout)
			case <-ctx.Done():
				return "error", ctx.Err()
			}
			firstChunk = false
		} else {
			select {
			case <-ctx.Done():
				logging.Debug().Str("sessionID", state.message.SessionID).Msg("stream: context cancelled")
				return "error", ctx.Err()
			default:
			}
			msg, err := stream.Recv()
			res = recvResult{msg: msg, err: err}
		}

		if res.err == io.EOF {
			logging.Debug().Int("chunks", chunkCount).Msg("stream: received EOF")
			break
		}
		if res.err != nil {
			logging.Warn().Err(res.err).Msg("stream: error receiving chunk")
			return "error", res.err
		}
		msg := res.msg
		chunkCount++
		now := time.Now()
		var delta time.Duration
		if !lastChunkTime.IsZero() {
			delta = now.Sub(lastChunkTime)
		}
		lastChunkTime = now
		logging.Debug().
			Int("chunk", chunkCount).
			Dur("delta", delta).
			Str("content", truncate(msg.Content, 50)).
			Int("toolCalls", len(msg.ToolCalls)).
			Bool("hasResponseMeta", msg.ResponseMeta != nil).
			Msg("stream: chunk received")

		// Process the message chunk
		finishReason = p.processMessageChunk(ctx, msg, state, step, callback,
			&currentTextPart, &currentReasoningPart, currentToolParts,
			&accumulatedContent, accumulatedToolInputs, &lastEventTime, titleScanner)

		if finishReason != "" {
			break
		}
	}

	// Finalize any open parts. Text the scanner was still withholding (a
	// partial tag the stream never completed) is ordinary text after all.
	if currentTextPart != nil {
		if rem := titleScanner.Flush(); rem != "" {
			currentTextPart.Text += rem
		}
		now := time.Now().UnixMilli()
		currentTextPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentTextPart)
	}

	if currentReasoningPart != nil {
		now := time.Now().UnixMilli()
		currentReasoningPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentReasoningPart)
	}

	// Finalize tool parts
	logging.Debug().Int("count", len(currentToolParts)).Msg("stream: finalizing tool parts")
	for id, toolPart := range currentToolParts {
		logging.Debug().
			Str("tool", toolPart.Tool).
			Str("callID", toolPart.CallID).
			Str("status", toolPart.State.Status).
			Msg("stream: finalizing tool part")
		if accInput, ok := accumulatedToolInputs[id]; ok && toolPart.State.Input == nil {
			var input map[string]any
			if err := json.Unmarshal([]byte(accInput), &input); err == nil {
				toolPart.State.Input = input
			}
		}
		toolPart.State.Status = ToolStateRunning
		p.savePart(ctx, state.message.ID, toolPart)
	}

	// Determine finish reason from accumulated state
	if finishReason == "" {
		if len(currentToolParts) > 0 {
			finishReason = "tool-calls"
		} else {
			finishReason = "stop"
		}
	}

	// Normalize: some providers report "tool_use" for the same condition
	if finishReason == "tool_use" {
		finishReason = "tool-calls"
	}

	logging.Debug().
		Str("finishReason", finishReason).
		Int("parts", len(state.parts)).
		Interface("tokens", state.message.Tokens).
		Msg("stream: finished")

	return finishReason, nil
}

// openStep creates and persists the Step record for this round-trip,
// snapshotting the system prompt sections the caller built for it, and
// publishes step.created.
func (p *Processor) openStep(ctx context.Context, state *sessionState) *types.Step {
	now := time.Now().UnixMilli()
	step := &types.Step{
		ID:             generatePartID(),
		SessionID:      state.message.SessionID,
		MessageID:      state.message.ID,
		Index:          state.step,
		ProviderID:     state.message.ProviderID,
		ModelID:        state.message.ModelID,
		Status:         types.StepStatusRunning,
		SystemMessages: state.systemMessages,
		Time:           types.StepTime{Created: now},
	}
	state.currentStep = step
	state.ordering = 0

	if err := p.storage.Put(ctx, []string{"step", state.message.ID, step.ID}, step); err != nil {
		logging.Warn().Err(err).Str("stepID", step.ID).Msg("stream: failed to persist step")
	}
	event.Publish(event.Event{
		Type: event.StepCreated,
		Data: event.StepCreatedData{Info: step},
	})
	return step
}

// finalizeStep closes out a Step once its round-trip has ended, whether
// normally or through a stream error, and publishes step.updated.
func (p *Processor) finalizeStep(ctx context.Context, state *sessionState, step *types.Step, finishReason string, streamErr error) {
	now := time.Now().UnixMilli()
	step.Time.Ended = &now

	if streamErr != nil {
		step.Status = types.StepStatusError
	} else {
		step.Status = types.StepStatusCompleted
		if finishReason != "" {
			step.Finish = &finishReason
		}
	}

	if state.message.Tokens != nil {
		step.Usage = types.StepUsage{
			Input:  state.message.Tokens.Input,
			Output: state.message.Tokens.Output,
			Cost:   state.message.Cost,
		}
	}

	if err := p.storage.Put(ctx, []string{"step", state.message.ID, step.ID}, step); err != nil {
		logging.Warn().Err(err).Str("stepID", step.ID).Msg("stream: failed to persist finalized step")
	}
	event.Publish(event.Event{
		Type: event.StepUpdated,
		Data: event.StepUpdatedData{Info: step},
	})

	// Fold the step's authoritative usage into the session's running total.
	// The orchestrator is the session's sole token writer while a turn is
	// in flight, so the read-modify-write below doesn't race.
	if usage := step.Usage.Input + step.Usage.Output; usage > 0 && state.tokens != nil {
		total := state.tokens.Fold(usage)
		if sess, err := p.findSession(ctx, state.message.SessionID); err == nil {
			sess.TotalTokens = total
			sess.BaseContextTokens = state.tokens.base
			if err := p.storage.Put(ctx, []string{"session", sess.ProjectID, sess.ID}, sess); err != nil {
				logging.Warn().Err(err).Str("sessionID", sess.ID).Msg("stream: failed to persist session tokens")
			}
			event.Publish(event.Event{
				Type: event.SessionUpdated,
				Data: event.SessionUpdatedData{Info: sess},
			})
		}
	}
}

// truncate truncates a string to the specified length.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MinEventInterval is the minimum time between streaming events.
// This ensures the TUI has time to process each event before the next arrives.
// Set to slightly above TUI's 16ms batching window to prevent batching.
const MinEventInterval = 20 * time.Millisecond

// throttledPublish publishes an event with optional throttling to prevent TUI batching.
func throttledPublish(e event.Event, lastEventTime *time.Time) {
	if lastEventTime != nil && !lastEventTime.IsZero() {
		elapsed := time.Since(*lastEventTime)
		if elapsed < MinEventInterval {
			sleepTime := MinEventInterval - elapsed
			logging.Debug().Dur("sleep", sleepTime).Dur("elapsed", elapsed).Msg("stream: throttling event publish")
			time.Sleep(sleepTime)
		}
	}
	event.Publish(e)
	if lastEventTime != nil {
		*lastEventTime = time.Now()
	}
}

// processMessageChunk handles a single message chunk from the stream.
func (p *Processor) processMessageChunk(
	ctx context.Context,
	msg *schema.Message,
	state *sessionState,
	step *types.Step,
	callback ProcessCallback,
	currentTextPart **types.TextPart,
	currentReasoningPart **types.ReasoningPart,
	currentToolParts map[string]*types.ToolPart,
	accumulatedContent *string,
	accumulatedToolInputs map[string]string,
	lastEventTime *time.Time,
	titleScanner *InlineActionScanner,
) string {
	var finishReason string

	// Handle text content
	if msg.Content != "" {
		// Work out the raw delta first: providers either resend the whole
		// accumulated content or just the new chunk.
		var delta string
		if *currentTextPart == nil {
			delta = msg.Content // First chunk IS the delta
		} else if strings.HasPrefix(msg.Content, *accumulatedContent) {
			// Accumulated mode: new content STARTS WITH all previous content
			delta = msg.Content[len(*accumulatedContent):]
		} else {
			// Delta mode: new content is just the new part
			delta = msg.Content
		}
		*accumulatedContent += delta

		state.tokens.AddText(delta)

		// Inline directives are stripped before the delta becomes visible:
		// subscribers see the text minus the <title>...</title> span.
		visible, title, matched := titleScanner.Feed(delta)
		if matched {
			if sess, err := p.findSession(ctx, state.message.SessionID); err == nil {
				p.applyTitle(ctx, sess, title)
			}
		}

		if *currentTextPart == nil {
			// Start new text part
			now := time.Now().UnixMilli()
			*currentTextPart = &types.TextPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				StepID:    step.ID,
				Ordering:  state.nextOrdering(),
				Type:      "text",
				Text:      visible,
				Status:    "streaming",
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentTextPart)

			// Publish the delta event for the first chunk too, so subscribers see text immediately
			// Note: Uses throttledPublish to prevent TUI batching
			throttledPublish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{
					Part:  *currentTextPart,
					Delta: visible,
				},
			}, lastEventTime)

			callback(state.message, state.parts)
		} else if visible != "" {
			(*currentTextPart).Text += visible

			// Publish the delta event
			// Note: Uses throttledPublish to prevent TUI batching
			throttledPublish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{
					Part:  *currentTextPart,
					Delta: visible,
				},
			}, lastEventTime)

			callback(state.message, state.parts)
		}
	}

	// Handle reasoning content (extended thinking)
	if msg.ReasoningContent != "" {
		if *currentReasoningPart == nil {
			now := time.Now().UnixMilli()
			*currentReasoningPart = &types.ReasoningPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				StepID:    step.ID,
				Ordering:  state.nextOrdering(),
				Type:      "reasoning",
				Text:      msg.ReasoningContent,
				Status:    "streaming",
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentReasoningPart)
			callback(state.message, state.parts)
		} else {
			(*currentReasoningPart).Text = msg.ReasoningContent
			callback(state.message, state.parts)
		}
	}

	// Handle tool calls
	// The eino streaming model uses Index to track tool calls:
	// - Start event: Index=N, ID="toolu_xxx", Name="Read"
	// - Delta events: Index=N, ID="", Name="", Arguments='{"partial...'
	for _, tc := range msg.ToolCalls {
		// Use Index to track tool calls (eino streaming model)
		var toolIndex int
		if tc.Index != nil {
			toolIndex = *tc.Index
		} else if tc.ID != "" {
			// Fallback: use ID-based tracking if Index not available
			toolIndex = -1 // Will use ID map
		} else {
			logging.Debug().Msg("stream: skipping tool call with no index and no ID")
			continue
		}

		// Determine lookup key - use index string or ID
		var lookupKey string
		if toolIndex >= 0 {
			lookupKey = fmt.Sprintf("idx:%d", toolIndex)
		} else {
			lookupKey = tc.ID
		}

		toolPart, exists := currentToolParts[lookupKey]

		// New tool call (has ID and Name)
		if !exists && tc.ID != "" && tc.Function.Name != "" {
			now := time.Now().UnixMilli()
			toolPart = &types.ToolPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				StepID:    step.ID,
				Ordering:  state.nextOrdering(),
				Type:      "tool",
				CallID:    tc.ID,
				Tool:      tc.Function.Name,
				State: types.ToolState{
					Status: ToolStatePending,
					Input:  make(map[string]any),
					Raw:    "",
					Time:   types.PartTime{Start: &now},
				},
			}
			logging.Debug().Str("tool", toolPart.Tool).Str("callID", toolPart.CallID).Int("index", toolIndex).
				Msg("stream: created new tool part")
			currentToolParts[lookupKey] = toolPart
			accumulatedToolInputs[lookupKey] = ""
			state.parts = append(state.parts, toolPart)
			callback(state.message, state.parts)
		}

		// Accumulate arguments (delta chunks have arguments but no ID/Name)
		if tc.Function.Arguments != "" && toolPart != nil {
			// Append arguments (eino sends deltas, not accumulated)
			accumulatedToolInputs[lookupKey] += tc.Function.Arguments
			toolPart.State.Raw = accumulatedToolInputs[lookupKey]

			// Try to parse accumulated JSON
			var input map[string]any
			if err := json.Unmarshal([]byte(accumulatedToolInputs[lookupKey]), &input); err == nil {
				toolPart.State.Input = input
			}

			// Publish the tool part update
			// Note: Must use async Publish so SSE select loop can process events
			event.Publish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{
					Part: toolPart,
				},
			})

			callback(state.message, state.parts)
		}
	}

	// Check for response metadata (token usage)
	if msg.ResponseMeta != nil {
		if state.message.Tokens == nil {
			state.message.Tokens = &types.TokenUsage{}
		}

		if msg.ResponseMeta.Usage != nil {
			state.message.Tokens.Input = msg.ResponseMeta.Usage.PromptTokens
			state.message.Tokens.Output = msg.ResponseMeta.Usage.CompletionTokens
		}

		// Check finish reason
		if msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	return finishReason
}
