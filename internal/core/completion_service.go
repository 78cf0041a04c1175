package core

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

var (
	ErrEmptyConversation = errors.New("messages must not be empty")
	ErrLastTurnNotUser   = errors.New("last message must be from the user")
)

// CompletionService answers a conversation by streaming the assistant reply.
type CompletionService struct {
	llm          ChatStreamer
	contexts     *ContextService
	defaultModel string
}

func NewCompletionService(llm ChatStreamer, contexts *ContextService, defaultModel string) *CompletionService {
	return &CompletionService{llm: llm, contexts: contexts, defaultModel: defaultModel}
}

// Validate reports request problems that must be rejected before any byte is streamed.
func (s *CompletionService) Validate(turns []store.Turn) error {
	if len(turns) == 0 {
		return ErrEmptyConversation
	}
	last := turns[len(turns)-1]
	if last.Role != store.RoleUser || strings.TrimSpace(last.Content) == "" {
		return ErrLastTurnNotUser
	}
	return nil
}

// Stream emits raw text deltas of the reply to turns. modelName "" selects the default model.
func (s *CompletionService) Stream(ctx context.Context, modelName string, turns []store.Turn, emit func(delta string) error) error {
	if err := s.Validate(turns); err != nil {
		return err
	}
	if modelName == "" {
		modelName = s.defaultModel
	}

	var attachments []store.Attachment
	for _, t := range turns {
		attachments = append(attachments, t.Attachments...)
	}
	history := buildHistory(turns[:len(turns)-1])

	last := turns[len(turns)-1]
	question := last.Content
	// Gemini rejects two user contents in a row, so an earlier user turn
	// whose reply never produced text is asked together with this one.
	if n := len(history); n > 0 && history[n-1].Role == "user" {
		question = contentText(history[n-1]) + "\n\n" + question
		history = history[:n-1]
	}

	relevantContext := ""
	if s.contexts != nil && len(attachments) > 0 {
		var err error
		relevantContext, err = s.contexts.RelevantContext(ctx, last.Content, attachments)
		if err != nil {
			// Answer without attachment context rather than failing the turn.
			logging.Warn().Err(err).Msg("Failed to get attachment context, proceeding without it")
			relevantContext = ""
		}
	}

	logging.Debug().Str("model", modelName).Int("history", len(history)).Int("attachments", len(attachments)).Msg("Streaming completion")
	return s.llm.StreamChat(ctx, modelName, history, buildPrompt(relevantContext, question), emit)
}

// buildHistory maps turns to alternating Gemini contents. Turns without text
// are dropped and neighbours left sharing a role are merged into one content.
func buildHistory(turns []store.Turn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		if t.Content == "" {
			continue // an aborted assistant turn with no text
		}
		role := geminiRole(t.Role)
		if n := len(history); n > 0 && history[n-1].Role == role {
			history[n-1].Parts = append(history[n-1].Parts, genai.Text(t.Content))
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return history
}

func contentText(c *genai.Content) string {
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if text, ok := p.(genai.Text); ok {
			texts = append(texts, string(text))
		}
	}
	return strings.Join(texts, "\n\n")
}

func geminiRole(r store.Role) string {
	if r == store.RoleAssistant {
		return "model"
	}
	return "user"
}
