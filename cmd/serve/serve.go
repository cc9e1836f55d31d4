package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chestguard/chestguard/internal/analysis"
	"github.com/chestguard/chestguard/internal/conf"
)

// Command creates the command that runs the HTTP API.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection API server",
		Long:  "Start the HTTP API that accepts chest X-ray uploads and returns fused predictions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.WebServer.Enabled = true
			return analysis.Serve(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", viper.GetString("webserver.listen"), "Listen address of the API server")
	cmd.Flags().StringVar(&settings.Metrics.Listen, "metrics-listen", viper.GetString("metrics.listen"), "Dedicated listen address for /metrics, empty serves it on the API server")
	cmd.Flags().BoolVar(&settings.Multilabel.Enabled, "multilabel", viper.GetBool("multilabel.enabled"), "Enable the local multilabel model")
	cmd.Flags().BoolVar(&settings.Binary.Enabled, "binary", viper.GetBool("binary.enabled"), "Enable the remote binary scorer")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
