package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
)

const chatSystemInstruction = "You are Searchable's assistant. You help users work with their documents, emails, " +
	"meeting transcriptions and chats from Microsoft 365 and Google Workspace. " +
	"When context from attached content is provided, ground your answer in it and say so when it is insufficient. " +
	"Do not make up information."

// ChatStreamer produces an assistant reply as a sequence of raw text deltas.
type ChatStreamer interface {
	StreamChat(ctx context.Context, modelName string, history []*genai.Content, prompt string, emit func(delta string) error) error
}

// Embedder returns one vector per input text, in order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type LLMService struct {
	client         *genai.Client
	embeddingModel string
}

func NewLLMService(ctx context.Context, apiKey, embeddingModel string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client, embeddingModel: embeddingModel}, nil
}

func (s *LLMService) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing GenAI client")
		return
	}
	logging.Debug().Msg("GenAI client closed")
}

// StreamChat sends prompt on top of history and emits every text part as it arrives.
// An error from emit stops the stream and is returned unchanged.
func (s *LLMService) StreamChat(ctx context.Context, modelName string, history []*genai.Content, prompt string, emit func(delta string) error) error {
	model := s.client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}

	cs := model.StartChat()
	cs.History = history

	iter := cs.SendMessageStream(ctx, genai.Text(prompt))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			txt, ok := part.(genai.Text)
			if !ok {
				logging.Debug().Str("type", fmt.Sprintf("%T", part)).Msg("Skipping non-text response part")
				continue
			}
			if txt == "" {
				continue
			}
			if err := emit(string(txt)); err != nil {
				return err
			}
		}
	}
}

func (s *LLMService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := s.client.EmbeddingModel(s.embeddingModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings from gemini", len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("no embedding data received for input %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}
