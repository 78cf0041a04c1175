package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Searchable-no/searchableapp-sub001/internal/client"
	"github.com/Searchable-no/searchableapp-sub001/internal/config"
)

var historyKind string

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"ls"},
	Short:   "List saved conversations, bookmarked first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.AppConfig
		ownerID, err := ownerFromToken(cfg.APIToken)
		if err != nil {
			return err
		}
		if ownerID == "" {
			return fmt.Errorf("history requires an API token (--token or $API_TOKEN)")
		}

		records, err := client.NewRecordClient(cfg.ServerURL, cfg.APIToken).ListRecords(cmd.Context(), ownerID, historyKind)
		if err != nil {
			return fmt.Errorf("failed to list conversations: %w", err)
		}
		NewRenderer(os.Stdout, os.Stderr, noColor).Summaries(records)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Only list records of this kind (chat, document, email, transcription)")
}
