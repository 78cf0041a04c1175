package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Searchable-no/searchableapp-sub001/internal/auth"
	"github.com/Searchable-no/searchableapp-sub001/internal/config"
)

var (
	tokenOwner string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token with the server's JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.AppConfig.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET environment variable is required")
		}
		token, err := auth.GenerateJWT(tokenOwner, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOwner, "owner", "", "Owner id to put in the token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("owner")
}
