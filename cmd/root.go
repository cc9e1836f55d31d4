package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chestguard/chestguard/cmd/detect"
	"github.com/chestguard/chestguard/cmd/enrichment"
	"github.com/chestguard/chestguard/cmd/notify"
	"github.com/chestguard/chestguard/cmd/patient"
	"github.com/chestguard/chestguard/cmd/serve"
	"github.com/chestguard/chestguard/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chestguard",
		Short:         "ChestGuard chest X-ray screening",
		Version:       fmt.Sprintf("%s (built %s)", settings.Version, settings.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		detect.Command(settings),
		patient.Command(settings),
		enrichment.Command(settings),
		notify.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Main.Name, "node", viper.GetString("main.name"), "Node name reported in events")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
