package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/Searchable-no/searchableapp-sub001/internal/chat"
	"github.com/Searchable-no/searchableapp-sub001/internal/client"
	"github.com/Searchable-no/searchableapp-sub001/internal/config"
	"github.com/Searchable-no/searchableapp-sub001/internal/event"
	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

type repl struct {
	session     *chat.Session
	renderer    *Renderer
	in          *bufio.Reader
	interrupted atomic.Bool // set when Ctrl-C stopped the current reply
}

func runChat(ctx context.Context, resumeID, modelName string) error {
	cfg := config.AppConfig
	ownerID, err := ownerFromToken(cfg.APIToken)
	if err != nil {
		return err
	}

	renderer := NewRenderer(os.Stdout, os.Stderr, noColor)
	bridge := event.NewBridge()
	defer bridge.Close()

	opts := chat.Options{
		Transport:      chat.NewHTTPTransport(completionsURL(cfg.ServerURL), cfg.APIToken),
		Bridge:         bridge,
		OwnerID:        ownerID,
		Model:          modelName,
		StreamTimeout:  cfg.StreamTimeout,
		PersistTimeout: cfg.PersistTimeout,
	}
	if ownerID != "" {
		opts.Records = client.NewRecordClient(cfg.ServerURL, cfg.APIToken)
	}
	session := chat.NewSession(opts)
	defer session.Wait()
	unsubscribe := session.Subscribe(renderer.Update)
	defer unsubscribe()

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	if err := bridge.Listen(listenCtx, func(id string) {
		renderer.Info("Saved as %s", id)
	}); err != nil {
		logging.Warn().Err(err).Msg("Record announcements unavailable")
	}

	if resumeID != "" {
		if err := session.Load(ctx, resumeID); err != nil {
			return describeLoadError(resumeID, err)
		}
		renderer.History(session.Snapshot())
	}

	r := &repl{session: session, renderer: renderer, in: bufio.NewReader(os.Stdin)}

	// Ctrl-C stops a streaming reply; it does not quit the REPL.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if session.Snapshot().Status == chat.StatusLoading {
				r.interrupted.Store(true)
				session.Cancel()
			} else {
				renderer.Info("Type /quit to exit.")
			}
		}
	}()

	renderer.Banner(cfg.ServerURL, ownerID)
	return r.run(ctx)
}

func describeLoadError(id string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("conversation %s does not exist", id)
	case errors.Is(err, store.ErrForbidden):
		return fmt.Errorf("conversation %s belongs to another user", id)
	case errors.Is(err, chat.ErrNoRecordStore):
		return fmt.Errorf("resuming a conversation requires an API token")
	default:
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
}

func (r *repl) readInput() (string, error) {
	var lines []string
	for {
		prompt := "> "
		if len(lines) > 0 {
			prompt = "... "
		}
		fmt.Print(prompt)
		line, err := r.in.ReadString('\n')
		if err != nil {
			if len(lines) == 0 || !errors.Is(err, io.EOF) {
				return "", err
			}
			return strings.Join(lines, "\n"), nil
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasSuffix(line, "\\") {
			lines = append(lines, strings.TrimSuffix(line, "\\"))
			continue
		}
		lines = append(lines, line)
		return strings.Join(lines, "\n"), nil
	}
}

func (r *repl) run(ctx context.Context) error {
	for {
		line, err := r.readInput()
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "/") {
			if quit := r.command(ctx, parseSlash(trimmed)); quit {
				return nil
			}
			continue
		}

		r.send(ctx, trimmed)
	}
}

func (r *repl) send(ctx context.Context, text string) {
	r.interrupted.Store(false)
	r.renderer.BeginReply(len(r.session.Snapshot().Turns) + 1)
	r.session.Submit(ctx, text)
	r.renderer.EndReply(r.session.Snapshot(), r.interrupted.Load())
}

func (r *repl) command(ctx context.Context, cmd slashCommand) bool {
	switch cmd.Name {
	case "quit":
		return true
	case "help":
		r.renderer.Help()
	case "new":
		r.session.Reset()
		r.renderer.Info("Started a new conversation.")
	case "rename":
		if cmd.Arg == "" {
			r.renderer.Error("usage: /rename <title>")
			return false
		}
		if !r.session.Rename(ctx, cmd.Arg) {
			r.renderer.Error("could not rename; is the conversation saved?")
			return false
		}
		r.renderer.Info("Renamed to %q.", cmd.Arg)
	case "bookmark":
		if !r.session.ToggleBookmark(ctx) {
			r.renderer.Error("could not toggle the bookmark; is the conversation saved?")
			return false
		}
		if r.session.Snapshot().Bookmarked {
			r.renderer.Info("Bookmarked.")
		} else {
			r.renderer.Info("Bookmark removed.")
		}
	case "delete":
		if !r.session.Delete(ctx) {
			r.renderer.Error("could not delete; is the conversation saved?")
			return false
		}
		r.renderer.Info("Deleted. Started a new conversation.")
	default:
		r.renderer.Error(fmt.Sprintf("unknown command /%s", cmd.Name))
		r.renderer.Help()
	}
	return false
}
