package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"timelapse/internal/app"
	"timelapse/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a config file without starting anything",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if len(args) == 1 {
			path = args[0]
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		cfg, err := config.Decode(path, b)
		if err != nil {
			return err
		}
		if err := app.Validate(cfg); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("%s: ok\n", path)
		return nil
	},
}
