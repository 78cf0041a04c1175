package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

// RecordStore is the backing record collaborator. Both *store.SQLiteStore
// and *client.RecordClient satisfy it.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *store.Record) error
	UpdateRecord(ctx context.Context, rec *store.Record) error
	GetRecord(ctx context.Context, id, ownerID string) (*store.Record, error)
	RenameRecord(ctx context.Context, id, ownerID, title string) error
	ToggleBookmark(ctx context.Context, id, ownerID string) (bool, error)
	DeleteRecord(ctx context.Context, id, ownerID string) error
}

type UpsertRequest struct {
	OwnerID    string
	Kind       string
	Turns      []store.Turn
	Title      string // derived from Turns when empty
	ThreadID   *string
	Metadata   map[string]any
	ExistingID string // "" creates a new record
}

// Reconciler maps an in-memory conversation onto its backing record. Its
// write methods never return errors; failures are logged and reported as
// "" or false so the conversation stays usable in memory.
type Reconciler struct {
	records RecordStore
	timeout time.Duration
	log     zerolog.Logger
}

func NewReconciler(records RecordStore, timeout time.Duration) *Reconciler {
	return &Reconciler{records: records, timeout: timeout, log: logging.Component("reconciler")}
}

func (r *Reconciler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Upsert overwrites ExistingID and returns it, or creates a record and returns
// the new id. It returns "" on any failure.
func (r *Reconciler) Upsert(ctx context.Context, req UpsertRequest) string {
	title := req.Title
	if title == "" {
		title = DeriveTitle(req.Turns)
	}
	kind := req.Kind
	if kind == "" {
		kind = store.KindChat
	}
	rec := &store.Record{
		ID:       req.ExistingID,
		OwnerID:  req.OwnerID,
		Kind:     kind,
		Title:    title,
		Turns:    store.CloneTurns(req.Turns),
		ThreadID: req.ThreadID,
		Metadata: req.Metadata,
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if req.ExistingID != "" {
		if err := r.records.UpdateRecord(ctx, rec); err != nil {
			r.log.Error().Err(err).Str("record_id", req.ExistingID).Msg("Failed to update record")
			return ""
		}
		return req.ExistingID
	}

	if err := r.records.CreateRecord(ctx, rec); err != nil {
		r.log.Error().Err(err).Str("owner_id", req.OwnerID).Msg("Failed to create record")
		return ""
	}
	r.log.Debug().Str("record_id", rec.ID).Msg("Created record")
	return rec.ID
}

// Load reads a record, keeping store.ErrNotFound and store.ErrForbidden distinct.
func (r *Reconciler) Load(ctx context.Context, id, ownerID string) (*store.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.records.GetRecord(ctx, id, ownerID)
}

func (r *Reconciler) Rename(ctx context.Context, id, ownerID, title string) bool {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.records.RenameRecord(ctx, id, ownerID, title); err != nil {
		r.log.Error().Err(err).Str("record_id", id).Msg("Failed to rename record")
		return false
	}
	return true
}

// ToggleBookmark returns the new bookmark state and whether the call succeeded.
func (r *Reconciler) ToggleBookmark(ctx context.Context, id, ownerID string) (bool, bool) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	bookmarked, err := r.records.ToggleBookmark(ctx, id, ownerID)
	if err != nil {
		r.log.Error().Err(err).Str("record_id", id).Msg("Failed to toggle bookmark")
		return false, false
	}
	return bookmarked, true
}

func (r *Reconciler) Delete(ctx context.Context, id, ownerID string) bool {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.records.DeleteRecord(ctx, id, ownerID); err != nil {
		r.log.Error().Err(err).Str("record_id", id).Msg("Failed to delete record")
		return false
	}
	return true
}
