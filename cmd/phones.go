// File: cmd/phones.go
// Description: The phones command. Reports pool usage from the ledger
// without touching the browser stack.

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/ledger"
	"github.com/xkilldash9x/enroll-cli/internal/observability"
)

var phonesPlatform string

var phonesCmd = &cobra.Command{
	Use:   "phones",
	Short: "Show phone pool usage for a platform.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		logger := observability.GetLogger()

		platform, err := schemas.ParsePlatform(phonesPlatform)
		if err != nil {
			return err
		}

		ctx := context.Background()
		var store ledger.Store
		switch cfg.Ledger.Backend {
		case "postgres":
			pg, err := ledger.Connect(ctx, cfg.Ledger.PostgresURL, platform)
			if err != nil {
				return err
			}
			store = pg
		default:
			store = ledger.NewFileStore(cfg.Paths.LedgerFile, platform)
		}

		ldg, err := ledger.New(ctx, store, platform, cfg.Paths.PoolFile, cfg.Ledger.StaleReservationAge, logger)
		if err != nil {
			return err
		}
		defer ldg.Close()

		stats := ldg.Stats()
		fmt.Printf("Platform:  %s\n", stats.Platform)
		fmt.Printf("Total:     %d\n", stats.Total)
		fmt.Printf("Available: %d\n", stats.Available)
		fmt.Printf("Reserved:  %d\n", stats.Reserved)
		fmt.Printf("Consumed:  %d (%d successes, %.1f%% success rate)\n",
			stats.Consumed, stats.Successes, stats.SuccessRate())
		return nil
	},
}

func init() {
	phonesCmd.Flags().StringVarP(&phonesPlatform, "platform", "p", "airbnb", "target platform")
	rootCmd.AddCommand(phonesCmd)
}
