package cli

import (
	"context"
	"fmt"

	"github.com/reverie-labs/reverie/internal/config"
	"github.com/reverie-labs/reverie/internal/daemon"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the reverie daemon",
	Long: `Start the reverie daemon in the foreground. The daemon serves the
WebSocket gateway and the metrics endpoint until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	return d.Run(context.Background())
}
