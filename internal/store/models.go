package store

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Record kinds understood by the chat views.
const (
	KindChat          = "chat"
	KindDocument      = "document"
	KindEmail         = "email"
	KindTranscription = "transcription"
)

type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
	Text        string `json:"text,omitempty"` // extracted plain text, used for context retrieval
}

type Turn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Record is the persisted copy of one conversation. Turns are stored as a
// single blob and replaced in full on every update.
type Record struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	Kind       string         `json:"kind"`
	Title      string         `json:"title"`
	Turns      []Turn         `json:"turns"`
	ThreadID   *string        `json:"thread_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Bookmarked bool           `json:"bookmarked"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  *time.Time     `json:"-"`
}

type RecordSummary struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Bookmarked bool      `json:"bookmarked"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CloneTurns copies turns deep enough that the caller can mutate the result.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t
		if t.Attachments != nil {
			out[i].Attachments = append([]Attachment(nil), t.Attachments...)
		}
	}
	return out
}
