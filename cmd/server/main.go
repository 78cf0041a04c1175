package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Searchable-no/searchableapp-sub001/internal/api"
	"github.com/Searchable-no/searchableapp-sub001/internal/config"
	"github.com/Searchable-no/searchableapp-sub001/internal/core"
	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	port := flag.String("port", config.AppConfig.HTTPPort, "HTTP port to listen on")
	flag.Parse()

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(config.AppConfig.LogLevel),
		Pretty: config.AppConfig.LogPretty,
	})
	log := logging.Component("server")

	if err := config.AppConfig.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService, err := core.NewLLMService(context.Background(), config.AppConfig.GeminiAPIKey, config.AppConfig.EmbeddingModel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize LLM service")
	}
	defer llmService.Close()

	contextService := core.NewContextService(llmService, config.AppConfig.ContextChunks)
	completionService := core.NewCompletionService(llmService, contextService, config.AppConfig.DefaultModel)

	router := api.NewRouter(api.NewAPIHandler(dbStore, completionService))

	serverAddr := fmt.Sprintf(":%s", *port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: completion bodies stay open while the model streams.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", serverAddr).Msg("Could not listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	// Active streams get this long to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}
	log.Info().Msg("Server exiting gracefully")
}
