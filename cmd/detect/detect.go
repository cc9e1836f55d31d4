package detect

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chestguard/chestguard/internal/analysis"
	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/detection"
)

// Command creates the command that runs one detection from the CLI.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		mode string
		full bool
	)

	cmd := &cobra.Command{
		Use:   "detect [MR number] [image]",
		Short: "Run a detection on a chest X-ray image",
		Long: `Run one detection for a registered patient and append it to the patient's history.

Examples:
  chestguard detect MR-1001 ./xray.png
  chestguard detect MR-1001 ./xray.jpg --mode binary --full`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			outcome, err := analysis.DetectFile(ctx, settings, args[0], args[1], mode)
			if err != nil {
				return err
			}
			return printOutcome(outcome, full)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "multilabel", "Model mode: multilabel or binary")
	cmd.Flags().BoolVar(&full, "full", false, "Print the patient and the whole detection history")

	return cmd
}

func printOutcome(outcome *detection.Outcome, full bool) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if !full {
		return enc.Encode(outcome.Latest)
	}
	return enc.Encode(struct {
		Patient any                        `json:"patient"`
		History any                        `json:"detection"`
		Latest  detection.LatestPrediction `json:"latestPrediction"`
	}{outcome.Patient, outcome.History, outcome.Latest})
}
