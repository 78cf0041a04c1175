package commands

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/Searchable-no/searchableapp-sub001/internal/chat"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

// Renderer writes the conversation to a terminal. Streamed replies are
// printed incrementally from session state updates.
type Renderer struct {
	out io.Writer
	err io.Writer

	mu        sync.Mutex
	streaming bool
	from      int // number of turns before the streamed reply
	printed   int // bytes of the streamed reply already written
}

func NewRenderer(out, errOut io.Writer, disableColor bool) *Renderer {
	if disableColor {
		color.NoColor = true
	}
	return &Renderer{out: out, err: errOut}
}

func (r *Renderer) Banner(server, ownerID string) {
	who := "guest (nothing is saved)"
	if ownerID != "" {
		who = ownerID
	}
	fmt.Fprintln(r.err, color.New(color.FgHiBlack).Sprintf("Connected to %s as %s. Type /help for commands.", server, who))
}

func (r *Renderer) Info(format string, args ...any) {
	fmt.Fprintln(r.err, color.New(color.FgHiBlack).Sprintf(format, args...))
}

func (r *Renderer) Error(msg string) {
	fmt.Fprintln(r.err, color.New(color.FgRed).Sprint("error: ")+msg)
}

func (r *Renderer) Help() {
	fmt.Fprintln(r.out, helpText)
}

// History prints the turns of a hydrated conversation.
func (r *Renderer) History(st chat.State) {
	if st.Title != "" {
		fmt.Fprintln(r.out, color.New(color.Bold).Sprint(st.Title))
	}
	for _, turn := range st.Turns {
		switch turn.Role {
		case store.RoleUser:
			fmt.Fprintf(r.out, "%s %s\n", color.New(color.FgCyan, color.Bold).Sprint("you ›"), turn.Content)
		default:
			fmt.Fprintf(r.out, "%s %s\n", color.New(color.FgGreen, color.Bold).Sprint("assistant ›"), turn.Content)
		}
	}
}

// BeginReply starts printing the reply that will follow turn number from.
func (r *Renderer) BeginReply(from int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = true
	r.from = from
	r.printed = 0
	fmt.Fprint(r.out, color.New(color.FgGreen, color.Bold).Sprint("assistant › "))
}

// Update is a session listener.
func (r *Renderer) Update(st chat.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.streaming || len(st.Turns) <= r.from {
		return
	}
	text, ok := st.LastAssistant()
	if !ok || len(text) <= r.printed {
		return
	}
	// Accumulated text only grows, so the unprinted part is a suffix.
	fmt.Fprint(r.out, text[r.printed:])
	r.printed = len(text)
}

// EndReply finishes the streamed reply and reports how the turn ended.
func (r *Renderer) EndReply(st chat.State, cancelled bool) {
	r.mu.Lock()
	r.streaming = false
	r.mu.Unlock()

	fmt.Fprintln(r.out)
	switch {
	case st.Status == chat.StatusError:
		r.Error(st.Error)
	case cancelled:
		r.Info("(stopped)")
	}
}

func (r *Renderer) Summaries(records []store.RecordSummary) {
	if len(records) == 0 {
		r.Info("No saved conversations.")
		return
	}
	star := color.New(color.FgYellow).Sprint("★")
	for _, rec := range records {
		mark := " "
		if rec.Bookmarked {
			mark = star
		}
		fmt.Fprintf(r.out, "%s %s  %s  %s\n",
			mark,
			color.New(color.FgHiBlack).Sprint(rec.UpdatedAt.Local().Format(time.DateTime)),
			color.New(color.FgCyan).Sprint(rec.ID),
			rec.Title)
	}
}
