package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
	"github.com/Searchable-no/searchableapp-sub001/internal/utils"
)

const (
	NumRelevantChunks   = 3   // Number of chunks to keep for context
	SimilarityThreshold = 0.5 // Minimum similarity score to consider a chunk relevant
	maxChunkRunes       = 1200
)

// ContextService selects the parts of attached documents, emails and
// transcriptions that are relevant to the user's latest question.
type ContextService struct {
	embedder  Embedder
	maxChunks int
	threshold float32
}

func NewContextService(embedder Embedder, maxChunks int) *ContextService {
	if maxChunks <= 0 {
		maxChunks = NumRelevantChunks
	}
	return &ContextService{embedder: embedder, maxChunks: maxChunks, threshold: SimilarityThreshold}
}

type scoredChunk struct {
	text       string
	similarity float32
}

// RelevantContext returns "" when no attachment carries text or nothing scores
// above the threshold. Small attachments are used whole without embedding.
func (s *ContextService) RelevantContext(ctx context.Context, query string, attachments []store.Attachment) (string, error) {
	var chunks []string
	for _, a := range attachments {
		for _, c := range utils.ChunkText(a.Text, maxChunkRunes) {
			chunks = append(chunks, fmt.Sprintf("[%s]\n%s", a.Name, c))
		}
	}
	if len(chunks) == 0 {
		return "", nil
	}
	if len(chunks) <= s.maxChunks {
		return strings.Join(chunks, "\n\n"), nil
	}

	vectors, err := s.embedder.EmbedTexts(ctx, append([]string{query}, chunks...))
	if err != nil {
		return "", fmt.Errorf("failed to embed attachment chunks: %w", err)
	}
	if len(vectors) != len(chunks)+1 {
		return "", fmt.Errorf("expected %d embeddings, got %d", len(chunks)+1, len(vectors))
	}
	queryVec, chunkVecs := vectors[0], vectors[1:]

	scored := make([]scoredChunk, 0, len(chunks))
	for i, vec := range chunkVecs {
		similarity, err := utils.CosineSimilarity(queryVec, vec)
		if err != nil {
			logging.Warn().Err(err).Int("chunk", i).Msg("Skipping chunk with unusable embedding")
			continue
		}
		if similarity >= s.threshold {
			scored = append(scored, scoredChunk{text: chunks[i], similarity: similarity})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].similarity > scored[j].similarity
	})
	if len(scored) > s.maxChunks {
		scored = scored[:s.maxChunks]
	}
	if len(scored) == 0 {
		logging.Debug().Float32("threshold", s.threshold).Int("chunks", len(chunks)).Msg("No attachment chunk relevant to query")
		return "", nil
	}

	texts := make([]string, len(scored))
	for i, c := range scored {
		texts[i] = c.text
	}
	return strings.Join(texts, "\n\n"), nil
}

func buildPrompt(relevantContext, question string) string {
	if relevantContext == "" {
		return question
	}
	return fmt.Sprintf("Use the following excerpts from the user's attached content where relevant:\n\n"+
		"--- CONTEXT START ---\n%s\n--- CONTEXT END ---\n\n%s", relevantContext, question)
}
