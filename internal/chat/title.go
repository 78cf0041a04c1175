package chat

import (
	"strings"

	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

// DefaultTitle is used until the conversation has a user turn with text.
const DefaultTitle = "New Chat"

const titleWords = 5

// DeriveTitle returns the first five words of the first user turn followed by an ellipsis.
func DeriveTitle(turns []store.Turn) string {
	for _, t := range turns {
		if t.Role != store.RoleUser {
			continue
		}
		words := strings.Fields(t.Content)
		if len(words) == 0 {
			return DefaultTitle
		}
		if len(words) > titleWords {
			words = words[:titleWords]
		}
		return strings.Join(words, " ") + "..."
	}
	return DefaultTitle
}
