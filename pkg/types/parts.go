package types

import "encoding/json"

// Part represents a component of an assistant message.
// All parts carry sessionID and messageID fields, plus the
// stepID/ordering pair that anchors them to a specific provider round-trip.
type Part interface {
	PartType() string
	PartID() string
	PartSessionID() string
	PartMessageID() string
	PartStepID() string
	PartOrdering() int
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part.
type TextPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	StepID    string         `json:"stepID,omitempty"`
	Ordering  int            `json:"ordering"`
	Type      string         `json:"type"` // always "text"
	Text      string         `json:"text"`
	Status    string         `json:"status,omitempty"` // "streaming" | "done"
	Time      PartTime       `json:"time,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (p *TextPart) PartType() string      { return "text" }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartSessionID() string { return p.SessionID }
func (p *TextPart) PartMessageID() string { return p.MessageID }
func (p *TextPart) PartStepID() string    { return p.StepID }
func (p *TextPart) PartOrdering() int     { return p.Ordering }

// ReasoningPart represents extended thinking/reasoning content.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	StepID    string   `json:"stepID,omitempty"`
	Ordering  int      `json:"ordering"`
	Type      string   `json:"type"` // always "reasoning"
	Text      string   `json:"text"`
	Status    string   `json:"status,omitempty"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string      { return "reasoning" }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartSessionID() string { return p.SessionID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }
func (p *ReasoningPart) PartStepID() string    { return p.StepID }
func (p *ReasoningPart) PartOrdering() int     { return p.Ordering }

// ToolState carries the live status of a tool invocation. It replaces a bare
// status string so streaming updates can carry partial input and the final
// result without overloading the part's top-level fields.
type ToolState struct {
	Status      string         `json:"status"` // "pending" | "running" | "completed" | "error"
	Input       map[string]any `json:"input,omitempty"`
	Raw         string         `json:"raw,omitempty"` // accumulated raw JSON args while streaming
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Title       string         `json:"title,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []FilePart     `json:"attachments,omitempty"`
	Time        PartTime       `json:"time,omitempty"`
}

// ToolPart represents a tool call and its result.
type ToolPart struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionID"`
	MessageID string    `json:"messageID"`
	StepID    string    `json:"stepID,omitempty"`
	Ordering  int       `json:"ordering"`
	Type      string    `json:"type"` // always "tool"
	CallID    string    `json:"callID"`
	Tool      string    `json:"tool"`
	State     ToolState `json:"state"`
	Time      PartTime  `json:"time,omitempty"`
}

func (p *ToolPart) PartType() string      { return "tool" }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartSessionID() string { return p.SessionID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }
func (p *ToolPart) PartStepID() string    { return p.StepID }
func (p *ToolPart) PartOrdering() int     { return p.Ordering }

// FilePart represents a file attachment.
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	StepID    string `json:"stepID,omitempty"`
	Ordering  int    `json:"ordering"`
	Type      string `json:"type"` // always "file"
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string      { return "file" }
func (p *FilePart) PartID() string        { return p.ID }
func (p *FilePart) PartSessionID() string { return p.SessionID }
func (p *FilePart) PartMessageID() string { return p.MessageID }
func (p *FilePart) PartStepID() string    { return p.StepID }
func (p *FilePart) PartOrdering() int     { return p.Ordering }

// ErrorPart records a terminal error surfaced inline in the message's part
// stream, so clients can render the failure at the point it interrupted
// generation rather than only on the message's top-level error field.
type ErrorPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	StepID    string   `json:"stepID,omitempty"`
	Ordering  int      `json:"ordering"`
	Type      string   `json:"type"` // always "error"
	ErrorType string   `json:"errorType"` // "api" | "auth" | "output_length" | "aborted"
	Message   string   `json:"message"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ErrorPart) PartType() string      { return "error" }
func (p *ErrorPart) PartID() string        { return p.ID }
func (p *ErrorPart) PartSessionID() string { return p.SessionID }
func (p *ErrorPart) PartMessageID() string { return p.MessageID }
func (p *ErrorPart) PartStepID() string    { return p.StepID }
func (p *ErrorPart) PartOrdering() int     { return p.Ordering }

// CompactionPart marks the point in a session's history where preceding
// messages were replaced by a generated summary, so a client can render a
// divider instead of silently losing track of the missing turns.
type CompactionPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	StepID    string `json:"stepID,omitempty"`
	Ordering  int    `json:"ordering"`
	Type      string `json:"type"` // always "compaction"
	Summary   string `json:"summary"`
	Count     int    `json:"count"` // number of messages replaced
	Auto      bool   `json:"auto"` // true when triggered by the context threshold rather than a user request
}

func (p *CompactionPart) PartType() string      { return "compaction" }
func (p *CompactionPart) PartID() string        { return p.ID }
func (p *CompactionPart) PartSessionID() string { return p.SessionID }
func (p *CompactionPart) PartMessageID() string { return p.MessageID }
func (p *CompactionPart) PartStepID() string    { return p.StepID }
func (p *CompactionPart) PartOrdering() int     { return p.Ordering }

// RawPart is used for JSON unmarshaling of parts.
type RawPart struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// UnmarshalPart unmarshals a JSON part into the appropriate type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw RawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool":
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "file":
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "error":
		var p ErrorPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "compaction":
		var p CompactionPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}
