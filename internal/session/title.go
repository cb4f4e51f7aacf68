package session

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/tandem-dev/tandem/internal/event"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/pkg/types"
)

const titleSystemPrompt = `You are a title generator. You output ONLY a thread title. Nothing else.

Generate a brief title that would help the user find this conversation later.

Rules:
- A single line, ≤50 characters
- No explanations
- Use -ing verbs for actions (Debugging, Implementing, Analyzing)
- Keep exact: technical terms, numbers, filenames
- Remove: the, this, my, a, an
- Always output something meaningful

Examples:
"debug 500 errors in production" → Debugging production 500 errors
"refactor user service" → Refactoring user service
"implement rate limiting" → Implementing rate limiting`

const defaultTitlePrefix = "New Session"

// isDefaultTitle checks if a title is the default "New Session" title.
func isDefaultTitle(title string) bool {
	return title == defaultTitlePrefix || strings.HasPrefix(title, defaultTitlePrefix)
}

// ensureTitle generates a title for the session if it's still using the default title.
// Should only be called on the first user message.
func (p *Processor) ensureTitle(
	ctx context.Context,
	session *types.Session,
	userContent string,
) {
	// Skip if session has a parent (child session)
	if session.ParentID != nil && *session.ParentID != "" {
		return
	}

	// Skip if title is not the default
	if !isDefaultTitle(session.Title) {
		return
	}

	// Get the default model for title generation
	model, err := p.providerRegistry.DefaultModel()
	if err != nil {
		return
	}

	prov, err := p.providerRegistry.Get(model.ProviderID)
	if err != nil {
		return
	}

	// Create title generation request
	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: model.ID,
		Messages: []*schema.Message{
			{Role: schema.System, Content: titleSystemPrompt},
			{Role: schema.User, Content: "Generate a title for this conversation:\n\n" + userContent},
		},
		MaxTokens: 50, // Short title
	})
	if err != nil {
		return
	}
	defer stream.Close()

	// Collect response
	var title strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return
		}
		title.WriteString(msg.Content)
	}

	// Clean up title
	titleText := strings.TrimSpace(title.String())
	// Get first non-empty line
	for _, line := range strings.Split(titleText, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			titleText = line
			break
		}
	}

	// Truncate if too long
	if len(titleText) > 100 {
		titleText = titleText[:97] + "..."
	}

	if titleText == "" {
		return
	}

	p.applyTitle(ctx, session, titleText)
}

// applyTitle persists a new session title and publishes session.updated.
// Shared by ensureTitle's dedicated generation call and by the inline
// <title>...</title> directive the model may emit mid-response.
func (p *Processor) applyTitle(ctx context.Context, session *types.Session, title string) {
	if title == "" {
		return
	}
	session.Title = title
	p.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)

	event.PublishSync(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionUpdatedData{Info: session},
	})
}

// Inline-action directive tags. The model can embed one of these in its
// streamed text output to update session metadata without a dedicated
// tool call; the scanner below extracts the content between the tags as
// soon as both have arrived, however the chunks split across deltas.
const (
	inlineTitleOpenTag  = "<title>"
	inlineTitleCloseTag = "</title>"
)

// InlineActionScanner watches a stream of text deltas for a single
// embedded <title>...</title> directive. The directive is extracted from
// the visible text: Feed returns what may be shown now (the delta minus
// any directive bytes), withholding only text that could still turn out
// to be part of a tag straddling the next delta. One scanner is created
// per assistant turn; a turn emits at most one inline title.
type InlineActionScanner struct {
	pending    string
	dispatched bool
}

// NewInlineActionScanner creates an empty scanner.
func NewInlineActionScanner() *InlineActionScanner {
	return &InlineActionScanner{}
}

// Feed consumes one text delta. visible is the text safe to append to the
// user-facing part now; title is the directive's content, reported with
// ok=true exactly once, as soon as the closing tag has been seen. After
// dispatch every delta passes through untouched.
func (s *InlineActionScanner) Feed(delta string) (visible, title string, ok bool) {
	if delta == "" {
		return "", "", false
	}
	if s.dispatched {
		return delta, "", false
	}
	s.pending += delta

	start := strings.Index(s.pending, inlineTitleOpenTag)
	if start == -1 {
		// Release everything except a tail that could be the start of an
		// open tag split across deltas.
		keep := tagSuffixOverlap(s.pending, inlineTitleOpenTag)
		visible = s.pending[:len(s.pending)-keep]
		s.pending = s.pending[len(s.pending)-keep:]
		return visible, "", false
	}

	rest := s.pending[start+len(inlineTitleOpenTag):]
	end := strings.Index(rest, inlineTitleCloseTag)
	if end == -1 {
		// Open tag seen, close tag not yet: release the prefix, withhold
		// the (partial) directive.
		visible = s.pending[:start]
		s.pending = s.pending[start:]
		return visible, "", false
	}

	s.dispatched = true
	title = strings.TrimSpace(rest[:end])
	visible = s.pending[:start] + rest[end+len(inlineTitleCloseTag):]
	s.pending = ""
	return visible, title, true
}

// Flush returns any withheld text once the stream has ended; a partial
// tag that never completed is ordinary text after all.
func (s *InlineActionScanner) Flush() string {
	out := s.pending
	s.pending = ""
	return out
}

// tagSuffixOverlap returns the length of the longest suffix of text that
// is a proper prefix of tag.
func tagSuffixOverlap(text, tag string) int {
	max := len(tag) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(text, tag[:n]) {
			return n
		}
	}
	return 0
}
