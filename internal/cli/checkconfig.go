package cli

import (
	"fmt"

	"github.com/reverie-labs/reverie/internal/config"
	"github.com/spf13/cobra"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load and validate the configuration, then exit",
	RunE:  runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	cmd.Printf("configuration ok\n")
	cmd.Printf("  data dir:   %s\n", cfg.DataDir)
	cmd.Printf("  graph db:   %s\n", cfg.Graph.DBPath)
	cmd.Printf("  memory db:  %s\n", cfg.Memory.DBPath)
	cmd.Printf("  providers:  %d\n", len(cfg.Providers))
	cmd.Printf("  gateway:    %s (enabled=%t)\n", cfg.Gateway.Addr, cfg.Gateway.Enabled)
	return nil
}
