// Package chat holds the state of one interactive conversation: the turns on
// screen, the completion stream that extends them and the backing record
// they are saved to.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusError   Status = "error"
)

var ErrNoRecordStore = errors.New("session has no record store")

// Announcer is told once per session when a backing record id is allocated.
type Announcer interface {
	Announce(recordID string)
}

type Options struct {
	Transport Streamer
	Records   RecordStore // nil keeps the session in memory only
	Bridge    Announcer   // optional

	OwnerID  string // "" is guest mode: nothing is persisted
	Model    string
	Kind     string
	ThreadID *string
	Metadata map[string]any

	StreamTimeout  time.Duration // 0 disables
	PersistTimeout time.Duration // 0 disables
}

// State is a copy of the session fields; readers may keep or modify it.
type State struct {
	RecordID   string
	Turns      []store.Turn
	Title      string
	OwnerID    string
	Bookmarked bool
	Status     Status
	Error      string
}

// LastAssistant returns the content of the trailing assistant turn, if any.
func (st State) LastAssistant() (string, bool) {
	if n := len(st.Turns); n > 0 && st.Turns[n-1].Role == store.RoleAssistant {
		return st.Turns[n-1].Content, true
	}
	return "", false
}

// stream is the handle of the one outstanding completion. Chunks are applied
// only while it is the session's active stream.
type stream struct {
	cancel    context.CancelFunc
	assistant int // index of the streamed assistant turn, -1 until the first chunk
}

// Session is the single writer of one conversation. All fields are guarded
// by mu; observers get copies through Subscribe.
type Session struct {
	transport     Streamer
	reconciler    *Reconciler
	bridge        Announcer
	model         string
	kind          string
	threadID      *string
	metadata      map[string]any
	streamTimeout time.Duration
	log           zerolog.Logger

	mu         sync.Mutex
	recordID   string
	title      string
	ownerID    string
	bookmarked bool
	turns      []store.Turn
	status     Status
	errMsg     string
	active     *stream
	epoch      uint64 // bumped whenever the conversation is replaced
	saveSeq    uint64

	saveMu   sync.Mutex
	savedSeq uint64
	saves    sync.WaitGroup

	listenersMu  sync.Mutex
	listeners    map[uint64]func(State)
	nextListener uint64
}

func NewSession(opts Options) *Session {
	s := &Session{
		transport:     opts.Transport,
		bridge:        opts.Bridge,
		model:         opts.Model,
		kind:          opts.Kind,
		threadID:      opts.ThreadID,
		metadata:      opts.Metadata,
		streamTimeout: opts.StreamTimeout,
		log:           logging.Component("session"),
		ownerID:       opts.OwnerID,
		status:        StatusIdle,
		listeners:     make(map[uint64]func(State)),
	}
	if opts.Records != nil {
		s.reconciler = NewReconciler(opts.Records, opts.PersistTimeout)
	}
	return s
}

// Subscribe registers fn to receive a State after every mutation. Calls are
// made outside the session lock; fn must not block for long.
func (s *Session) Subscribe(fn func(State)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) notify() {
	st := s.Snapshot()
	s.listenersMu.Lock()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		RecordID:   s.recordID,
		Turns:      store.CloneTurns(s.turns),
		Title:      s.title,
		OwnerID:    s.ownerID,
		Bookmarked: s.bookmarked,
		Status:     s.status,
		Error:      s.errMsg,
	}
}

// detachLocked abandons the active stream and starts a new conversation epoch.
func (s *Session) detachLocked() {
	if s.active != nil {
		s.active.cancel()
		s.active = nil
	}
	s.epoch++
}

// Initialize replaces every session field at once, e.g. when hydrating from
// an existing record. Status becomes idle and any error is cleared.
func (s *Session) Initialize(recordID string, turns []store.Turn, title, ownerID string, bookmarked bool) {
	s.mu.Lock()
	s.detachLocked()
	s.recordID = recordID
	s.turns = store.CloneTurns(turns)
	s.title = title
	s.ownerID = ownerID
	s.bookmarked = bookmarked
	s.status = StatusIdle
	s.errMsg = ""
	s.mu.Unlock()
	s.notify()
}

// Load hydrates the session from the record with the given id. An ownership
// violation is returned as store.ErrForbidden, distinct from store.ErrNotFound.
func (s *Session) Load(ctx context.Context, recordID string) error {
	if s.reconciler == nil {
		return ErrNoRecordStore
	}
	s.mu.Lock()
	ownerID := s.ownerID
	s.mu.Unlock()

	rec, err := s.reconciler.Load(ctx, recordID, ownerID)
	if err != nil {
		return err
	}
	s.Initialize(rec.ID, rec.Turns, rec.Title, rec.OwnerID, rec.Bookmarked)
	return nil
}

// Reset starts a new chat: the session detaches from its record and the
// conversation is cleared.
func (s *Session) Reset() {
	s.mu.Lock()
	s.detachLocked()
	s.recordID = ""
	s.turns = nil
	s.title = ""
	s.bookmarked = false
	s.status = StatusIdle
	s.errMsg = ""
	s.mu.Unlock()
	s.notify()
}

// Cancel aborts the outstanding stream, if any. Turns already applied stay.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return
	}
	s.active.cancel()
	s.active = nil
	s.status = StatusIdle
	s.mu.Unlock()
	s.notify()
}

// Wait blocks until background saves started by Submit have finished.
func (s *Session) Wait() {
	s.saves.Wait()
}

// Submit sends text as a user turn and streams the assistant reply. It
// returns once the turn has completed, failed or been cancelled; outcomes are
// reported through the session status, never as an error. Blank text and
// calls made while a turn is loading are ignored.
func (s *Session) Submit(ctx context.Context, text string, attachments ...store.Attachment) {
	if strings.TrimSpace(text) == "" {
		return
	}

	s.mu.Lock()
	if s.status == StatusLoading {
		s.mu.Unlock()
		return
	}
	s.turns = append(s.turns, store.Turn{
		Role:        store.RoleUser,
		Content:     text,
		Attachments: append([]store.Attachment(nil), attachments...),
	})
	s.status = StatusLoading
	s.errMsg = ""

	streamCtx, cancel := context.WithCancel(ctx)
	h := &stream{cancel: cancel, assistant: -1}
	s.active = h
	epoch := s.epoch
	first := s.recordID == ""
	userSave, persistUser := s.upsertRequestLocked()
	payload := CompletionRequest{Messages: store.CloneTurns(s.turns), Model: s.model}
	s.mu.Unlock()
	s.notify()

	// Saves outlive Cancel and the caller's context; the reconciler bounds them.
	persistCtx := context.WithoutCancel(ctx)
	if persistUser {
		if first {
			s.persist(persistCtx, userSave, epoch)
		} else {
			s.saves.Add(1)
			go func(p pendingSave) {
				defer s.saves.Done()
				s.persist(persistCtx, p, epoch)
			}(userSave)
		}
	}

	// The reply deadline starts once the record exists.
	if s.streamTimeout > 0 {
		var stopTimer context.CancelFunc
		streamCtx, stopTimer = context.WithTimeout(streamCtx, s.streamTimeout)
		defer stopTimer()
	}

	final, err := s.transport.Stream(streamCtx, payload, func(accumulated string) {
		s.mu.Lock()
		if s.active != h {
			s.mu.Unlock()
			return
		}
		s.setAssistantLocked(h, accumulated)
		s.mu.Unlock()
		s.notify()
	})

	s.mu.Lock()
	cancelled := s.active != h
	if !cancelled {
		s.active = nil
	}
	h.cancel()

	switch {
	case cancelled:
		if s.epoch != epoch {
			s.mu.Unlock() // the conversation was replaced; nothing of this turn remains
			return
		}
		s.log.Debug().Str("record_id", s.recordID).Msg("Stream cancelled, keeping partial reply")
	case err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// The caller went away; same outcome as Cancel.
		s.status = StatusIdle
	case err != nil:
		s.status = StatusError
		s.errMsg = errorMessage(err)
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("Completion failed")
		s.notify()
		return
	default:
		s.setAssistantLocked(h, final)
		s.status = StatusIdle
	}
	finalSave, persistFinal := s.upsertRequestLocked()
	s.mu.Unlock()
	s.notify()

	if persistFinal {
		s.persist(persistCtx, finalSave, epoch)
	}
}

func (s *Session) setAssistantLocked(h *stream, text string) {
	if h.assistant < 0 {
		s.turns = append(s.turns, store.Turn{Role: store.RoleAssistant})
		h.assistant = len(s.turns) - 1
	}
	s.turns[h.assistant].Content = text
}

type pendingSave struct {
	seq uint64
	req UpsertRequest
}

// upsertRequestLocked snapshots the conversation for saving. The second
// result is false in guest mode or without a record store.
func (s *Session) upsertRequestLocked() (pendingSave, bool) {
	if s.reconciler == nil || s.ownerID == "" {
		return pendingSave{}, false
	}
	s.saveSeq++
	return pendingSave{
		seq: s.saveSeq,
		req: UpsertRequest{
			OwnerID:    s.ownerID,
			Kind:       s.kind,
			Turns:      store.CloneTurns(s.turns),
			Title:      s.title,
			ThreadID:   s.threadID,
			Metadata:   s.metadata,
			ExistingID: s.recordID,
		},
	}, true
}

// persist writes saves one at a time and drops any save older than one
// already written, so the record never goes back to an earlier conversation.
func (s *Session) persist(ctx context.Context, p pendingSave, epoch uint64) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if p.seq <= s.savedSeq {
		return
	}

	if p.req.ExistingID == "" {
		// A create queued before an earlier one succeeded must become an update.
		s.mu.Lock()
		if s.epoch == epoch {
			p.req.ExistingID = s.recordID
			if p.req.Title == "" {
				p.req.Title = s.title
			}
		}
		s.mu.Unlock()
	}

	id := s.reconciler.Upsert(ctx, p.req)
	if id == "" {
		return
	}
	s.savedSeq = p.seq
	if p.req.ExistingID != "" {
		return
	}

	s.mu.Lock()
	allocated := s.epoch == epoch && s.recordID == ""
	if allocated {
		s.recordID = id
		if s.title == "" {
			s.title = DeriveTitle(p.req.Turns)
		}
	}
	s.mu.Unlock()
	if !allocated {
		return
	}

	s.log.Info().Str("record_id", id).Msg("Conversation saved")
	s.notify()
	if s.bridge != nil {
		s.bridge.Announce(id)
	}
}

// recordRef returns the id and owner the metadata operations act on.
func (s *Session) recordRef() (string, string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordID, s.ownerID, s.epoch
}

// Rename sets an explicit title. It returns false when there is no record yet
// or the store rejects the change.
func (s *Session) Rename(ctx context.Context, title string) bool {
	title = strings.TrimSpace(title)
	id, ownerID, epoch := s.recordRef()
	if id == "" || title == "" || s.reconciler == nil {
		return false
	}
	if !s.reconciler.Rename(ctx, id, ownerID, title) {
		return false
	}
	s.mu.Lock()
	if s.epoch == epoch {
		s.title = title
	}
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Session) ToggleBookmark(ctx context.Context) bool {
	id, ownerID, epoch := s.recordRef()
	if id == "" || s.reconciler == nil {
		return false
	}
	bookmarked, ok := s.reconciler.ToggleBookmark(ctx, id, ownerID)
	if !ok {
		return false
	}
	s.mu.Lock()
	if s.epoch == epoch {
		s.bookmarked = bookmarked
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// Delete soft-deletes the backing record and, on success, starts a new chat.
func (s *Session) Delete(ctx context.Context) bool {
	id, ownerID, epoch := s.recordRef()
	if id == "" || s.reconciler == nil {
		return false
	}
	if !s.reconciler.Delete(ctx, id, ownerID) {
		return false
	}
	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if current {
		s.Reset()
	}
	return true
}

func errorMessage(err error) string {
	var ce *CompletionError
	switch {
	case errors.As(err, &ce):
		return ce.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "The assistant took too long to respond. Please try again."
	default:
		return "Failed to get a response: " + err.Error()
	}
}
