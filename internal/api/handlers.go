package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Searchable-no/searchableapp-sub001/internal/auth"
	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

// RecordRepository is the storage behind the record routes.
type RecordRepository interface {
	CreateRecord(ctx context.Context, rec *store.Record) error
	UpdateRecord(ctx context.Context, rec *store.Record) error
	GetRecord(ctx context.Context, id, ownerID string) (*store.Record, error)
	ListRecords(ctx context.Context, ownerID, kind string) ([]store.RecordSummary, error)
	RenameRecord(ctx context.Context, id, ownerID, title string) error
	ToggleBookmark(ctx context.Context, id, ownerID string) (bool, error)
	DeleteRecord(ctx context.Context, id, ownerID string) error
}

// Completer produces streamed assistant replies.
type Completer interface {
	Validate(turns []store.Turn) error
	Stream(ctx context.Context, modelName string, turns []store.Turn, emit func(delta string) error) error
}

type APIHandler struct {
	records   RecordRepository
	completer Completer
	log       zerolog.Logger
}

func NewAPIHandler(records RecordRepository, completer Completer) *APIHandler {
	return &APIHandler{records: records, completer: completer, log: logging.Component("api")}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps store sentinels onto 404 and 403 and logs everything else.
func (h *APIHandler) writeStoreError(w http.ResponseWriter, err error, id, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Record not found")
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "Record belongs to another user")
	default:
		h.log.Error().Err(err).Str("record_id", id).Msg("Failed to " + action)
		writeError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return h.jwtAuth(next, true)
}

// OptionalJWTMiddleware lets requests without an Authorization header through
// as guests. A header that is present must still carry a valid token.
func (h *APIHandler) OptionalJWTMiddleware(next http.Handler) http.Handler {
	return h.jwtAuth(next, false)
}

func (h *APIHandler) jwtAuth(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if required {
				writeError(w, http.StatusUnauthorized, "Authorization header is required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		ownerID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			h.log.Debug().Err(err).Msg("Rejected bearer token")
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), ownerID)))
	})
}

type RecordRequest struct {
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	Turns    []store.Turn   `json:"turns"`
	ThreadID *string        `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (req RecordRequest) record(id, ownerID string) *store.Record {
	return &store.Record{
		ID:       id,
		OwnerID:  ownerID,
		Kind:     req.Kind,
		Title:    req.Title,
		Turns:    req.Turns,
		ThreadID: req.ThreadID,
		Metadata: req.Metadata,
	}
}

func decodeRecordRequest(w http.ResponseWriter, r *http.Request) (RecordRequest, bool) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return req, false
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return req, false
	}
	if req.Turns == nil {
		req.Turns = []store.Turn{}
	}
	return req, true
}

func (h *APIHandler) CreateRecordHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())
	req, ok := decodeRecordRequest(w, r)
	if !ok {
		return
	}

	rec := req.record("", ownerID)
	if err := h.records.CreateRecord(r.Context(), rec); err != nil {
		h.writeStoreError(w, err, "", "create record")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *APIHandler) ListRecordsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())

	records, err := h.records.ListRecords(r.Context(), ownerID, r.URL.Query().Get("kind"))
	if err != nil {
		h.writeStoreError(w, err, "", "list records")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) GetRecordHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "recordID")

	rec, err := h.records.GetRecord(r.Context(), id, ownerID)
	if err != nil {
		h.writeStoreError(w, err, id, "get record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *APIHandler) UpdateRecordHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "recordID")
	req, ok := decodeRecordRequest(w, r)
	if !ok {
		return
	}

	if err := h.records.UpdateRecord(r.Context(), req.record(id, ownerID)); err != nil {
		h.writeStoreError(w, err, id, "update record")
		return
	}
	rec, err := h.records.GetRecord(r.Context(), id, ownerID)
	if err != nil {
		h.writeStoreError(w, err, id, "get record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type RenameRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) RenameRecordHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "recordID")

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "Title cannot be empty")
		return
	}

	if err := h.records.RenameRecord(r.Context(), id, ownerID, title); err != nil {
		h.writeStoreError(w, err, id, "rename record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type BookmarkResponse struct {
	Bookmarked bool `json:"bookmarked"`
}

func (h *APIHandler) ToggleBookmarkHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "recordID")

	bookmarked, err := h.records.ToggleBookmark(r.Context(), id, ownerID)
	if err != nil {
		h.writeStoreError(w, err, id, "toggle bookmark")
		return
	}
	writeJSON(w, http.StatusOK, BookmarkResponse{Bookmarked: bookmarked})
}

func (h *APIHandler) DeleteRecordHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "recordID")

	if err := h.records.DeleteRecord(r.Context(), id, ownerID); err != nil {
		h.writeStoreError(w, err, id, "delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
