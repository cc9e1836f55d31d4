package enrichment

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/chestguard/chestguard/internal/analysis"
	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/enrichment"
	"github.com/chestguard/chestguard/internal/httpclient"
)

// Command creates the enrichment parent command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrichment",
		Short: "Inspect the radiology enrichment service",
	}
	cmd.AddCommand(statusCommand(settings))
	return cmd
}

func statusCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the enrichment quota and pacing state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var db *gorm.DB
			if settings.Enrichment.Store == conf.EnrichmentStoreDatabase {
				ds, err := analysis.OpenDataStore(settings)
				if err != nil {
					return err
				}
				defer ds.Close() //nolint:errcheck // nothing to recover on exit
				db = ds.Gorm()
			}

			svc, err := enrichment.NewFromSettings(&settings.Enrichment, db, httpclient.New(nil))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			status, err := svc.Status(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Enabled bool `json:"enabled"`
				enrichment.Status
			}{svc.Enabled(), status})
		},
	}
}
