package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logging.Component("http")))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		// Completions stay open to guest sessions, which have no token and
		// never persist. A supplied token is still verified.
		r.With(apiHandler.OptionalJWTMiddleware).Post("/chat/completions", apiHandler.CompletionsHandler)

		// Owner-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/records", apiHandler.CreateRecordHandler)
			r.Get("/records", apiHandler.ListRecordsHandler)
			r.Route("/records/{recordID}", func(r chi.Router) {
				r.Get("/", apiHandler.GetRecordHandler)
				r.Put("/", apiHandler.UpdateRecordHandler)
				r.Delete("/", apiHandler.DeleteRecordHandler)
				r.Patch("/title", apiHandler.RenameRecordHandler)
				r.Post("/bookmark", apiHandler.ToggleBookmarkHandler)
			})
		})
	})

	return r
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("Request handled")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
