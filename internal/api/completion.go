package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Searchable-no/searchableapp-sub001/internal/auth"
	"github.com/Searchable-no/searchableapp-sub001/internal/chat"
)

// CompletionsHandler streams the assistant reply as plain UTF-8 text, flushing
// after every delta. Errors before the first byte are JSON; after it the
// connection is aborted so the client sees a truncated body.
func (h *APIHandler) CompletionsHandler(w http.ResponseWriter, r *http.Request) {
	var req chat.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.completer.Validate(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logCtx := h.log.With().Str("request_id", middleware.GetReqID(r.Context()))
	if ownerID := auth.OwnerFromContext(r.Context()); ownerID != "" {
		logCtx = logCtx.Str("owner_id", ownerID)
	}
	log := logCtx.Logger()
	rc := http.NewResponseController(w)
	started := false

	err := h.completer.Stream(r.Context(), req.Model, req.Messages, func(delta string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, delta); err != nil {
			return err
		}
		return rc.Flush()
	})

	switch {
	case err == nil:
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
		}
	case r.Context().Err() != nil:
		log.Debug().Err(err).Msg("Client went away during completion")
	case !started:
		log.Error().Err(err).Msg("Completion failed")
		writeError(w, http.StatusInternalServerError, "Failed to generate a response")
	default:
		log.Error().Err(err).Msg("Completion failed mid-stream")
		panic(http.ErrAbortHandler)
	}
}
