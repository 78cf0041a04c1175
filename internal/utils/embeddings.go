package utils

import (
	"fmt"
	"math"
	"strings"
)

// CosineSimilarity returns a value in [-1, 1]; zero-magnitude vectors score 0.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension (%d != %d)", len(vec1), len(vec2))
	}

	var dot, sum1, sum2 float64
	for i := range vec1 {
		a, b := float64(vec1[i]), float64(vec2[i])
		dot += a * b
		sum1 += a * a
		sum2 += b * b
	}
	if sum1 == 0 || sum2 == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(sum1) * math.Sqrt(sum2))), nil
}

// ChunkText splits text on blank lines and packs paragraphs into chunks of at
// most maxRunes runes. A single paragraph longer than maxRunes is split on
// word boundaries.
func ChunkText(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = 1000
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) > maxRunes {
			flush()
			chunks = append(chunks, splitWords(para, maxRunes)...)
			continue
		}
		if current.Len() > 0 && runeLen(current.String())+2+runeLen(para) > maxRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

func splitWords(para string, maxRunes int) []string {
	var out []string
	var line strings.Builder
	for _, word := range strings.Fields(para) {
		if line.Len() > 0 && runeLen(line.String())+1+runeLen(word) > maxRunes {
			out = append(out, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		out = append(out, line.String())
	}
	return out
}

func runeLen(s string) int { return len([]rune(s)) }
