package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/event"
	"github.com/tandem-dev/tandem/pkg/types"
)

// registerMessageProcedures adds the message.* mutation group: starting and
// aborting a turn, and answering a pending ask.
func registerMessageProcedures(c *Catalog) {
	c.Register(&Procedure{
		Path: "message.triggerStream",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				SessionID string          `json:"sessionID"`
				Content   string          `json:"content"`
				Model     *types.ModelRef `json:"model,omitempty"`
				FileIDs   []string        `json:"fileIds,omitempty"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.SessionID == "" || in.Content == "" {
				return nil, apperror.Validation("sessionID and content are required")
			}

			sess, err := rc.Sessions.Get(ctx, in.SessionID)
			if err != nil {
				return nil, apperror.NotFound("session %q not found", in.SessionID)
			}

			// Each referenced upload becomes a file part; a dangling id
			// becomes an error part so the miss is recorded in-conversation
			// instead of failing the whole turn.
			var attachments []types.Part
			for _, fileID := range in.FileIDs {
				var sf types.StoredFile
				if err := rc.Storage.Get(ctx, []string{"filecontent", fileID}, &sf); err != nil {
					attachments = append(attachments, &types.ErrorPart{
						ID:        ulid.Make().String(),
						Type:      "error",
						ErrorType: "api",
						Message:   fmt.Sprintf("attached file %s not found", fileID),
					})
					continue
				}
				attachments = append(attachments, &types.FilePart{
					ID:        ulid.Make().String(),
					Type:      "file",
					Filename:  sf.Path,
					MediaType: sf.MediaType,
					URL:       "data:" + sf.MediaType + ";base64," + sf.Data,
				})
			}

			// Returns as soon as the turn is queued or started; the stream
			// itself is observed on session-stream:{id}, not in this response.
			queued, err := rc.Sessions.TriggerStream(ctx, sess, in.Content, in.Model, func(m *types.Message, p []types.Part) {
				event.Publish(event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{Info: m}})
			}, attachments...)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindProvider, "trigger stream", err)
			}
			return map[string]any{"success": true, "sessionID": sess.ID, "queued": queued}, nil
		},
	})

	c.Register(&Procedure{
		Path: "message.abortStream",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				SessionID string `json:"sessionID"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if err := rc.Sessions.Abort(ctx, in.SessionID); err != nil {
				return nil, apperror.Wrap(apperror.KindStream, "abort stream", err)
			}
			return map[string]bool{"ok": true}, nil
		},
	})

	c.Register(&Procedure{
		Path: "message.answerAsk",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				SessionID string `json:"sessionID"`
				RequestID string `json:"requestID"`
				Answer    string `json:"answer"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.SessionID == "" || in.RequestID == "" {
				return nil, apperror.Validation("sessionID and requestID are required")
			}
			resp, err := rc.Sessions.GetAskQueue().Answer(in.SessionID, in.RequestID, in.Answer)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindValidation, "answer ask", err)
			}
			return resp, nil
		},
	})
}
