// Package commands provides the CLI commands for the chat client.
package commands

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/Searchable-no/searchableapp-sub001/internal/config"
	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
)

// Global flags
var (
	serverURL string
	apiToken  string
	logLevel  string
	noColor   bool

	recordID string
	model    string
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Terminal client for the Searchable chat server",
	Long: `chat talks to a running chat server. Conversations are saved to the
server when a bearer token is configured; without one the client runs
as a guest and nothing is persisted.

Run 'chat token --owner <id>' against a server's JWT secret to mint a development token.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadConfig()
		if cmd.Flags().Changed("server") {
			config.AppConfig.ServerURL = serverURL
		}
		if cmd.Flags().Changed("token") {
			config.AppConfig.APIToken = apiToken
		}
		logging.Init(logging.Config{Level: logging.ParseLevel(logLevel), Pretty: true})
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), recordID, model)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (default $SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token (default $API_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.Flags().StringVar(&recordID, "id", "", "Resume the saved conversation with this id")
	rootCmd.Flags().StringVar(&model, "model", "", "Model to request (server default when empty)")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(tokenCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ownerFromToken reads the subject of a bearer token without verifying it;
// the server does the verification.
func ownerFromToken(token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", nil
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("malformed API token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("API token has no subject")
	}
	return claims.Subject, nil
}

func completionsURL(base string) string {
	return strings.TrimRight(base, "/") + "/api/chat/completions"
}
