package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/acpconductor/conductor/internal/config"
)

var printConfig bool

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Parse and validate the configuration, then exit",
	Long: `validate-config loads the configuration the same way "run" would
(file + environment + defaults), validates it, and exits non-zero on
failure without starting any pipeline component.`,
	RunE: runValidateConfig,
}

func init() {
	validateConfigCmd.Flags().BoolVar(&printConfig, "print", false, "print the resolved configuration as YAML")
	rootCmd.AddCommand(validateConfigCmd)
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("rendering config: %w", err)
		}
		fmt.Print(string(out))
	}

	fmt.Println("configuration is valid")
	return nil
}
