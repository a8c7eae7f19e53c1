package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the effective configuration as YAML, after layering the config
file over the built-in defaults. Creates the config file with defaults if
it does not exist yet.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	data, err := yaml.Marshal(configMgr.Get())
	if err != nil {
		return err
	}

	fmt.Printf("# %s\n", configMgr.GetConfigPath())
	fmt.Print(string(data))
	return nil
}
