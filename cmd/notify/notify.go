package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/fusion"
	"github.com/chestguard/chestguard/internal/inference"
	"github.com/chestguard/chestguard/internal/notification"
)

// Command returns a cobra command that sends a test alert through the
// configured notification URLs.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		mrNo       string
		result     string
		confidence float64
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test alert for an abnormal result",
		Long: `Send a test alert through the notification URLs in the configuration.

Examples:
  chestguard notify
  chestguard notify --result=both --confidence=0.93 --mr=MR-TEST`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res fusion.Result
			switch fusion.Result(result) {
			case fusion.ResultPneumonia, fusion.ResultTuberculosis, fusion.ResultBoth:
				res = fusion.Result(result)
			default:
				return fmt.Errorf("invalid result %q, use pneumonia, tuberculosis or both", result)
			}

			provider, err := notification.NewFromSettings(&settings.Notification)
			if err != nil {
				return err
			}
			if provider == nil {
				return fmt.Errorf("notifications are not enabled in configuration")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			notifier := notification.NewNotifier(nil, provider)
			ev := &detection.Event{
				MRNo:       mrNo,
				Mode:       inference.ModeMultilabel,
				Result:     res,
				Confidence: confidence,
				Probabilities: []inference.ClassProbability{
					{ClassName: res.ClassName(), Probability: confidence, Confidence: inference.Bucket(confidence)},
				},
				Abnormal:  true,
				Timestamp: time.Now(),
				Node:      settings.Main.Name,
			}
			if err := notifier.Observe(ctx, ev); err != nil {
				return err
			}

			fmt.Printf("Test alert sent to %d URL(s)\n", len(settings.Notification.URLs))
			return nil
		},
	}

	cmd.Flags().StringVar(&mrNo, "mr", "MR-TEST", "MR number shown in the alert")
	cmd.Flags().StringVar(&result, "result", string(fusion.ResultPneumonia), "Result to report: pneumonia, tuberculosis, both")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.9, "Confidence between 0 and 1")
	cmd.Flags().DurationVar(&wait, "timeout", 30*time.Second, "How long to wait for delivery")

	return cmd
}
