package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/nwb-convert/internal/container"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate <artifact>",
	Short: "Run the containerized best-practices inspector on an artifact",
	Long: `Validate runs the nwb-inspect container image against a session artifact
and streams its report. Docker is tried first, then Podman.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().String("image", "", "inspector container image (default "+container.DefaultInspectorImage+")")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	image, _ := cmd.Flags().GetString("image")
	if image == "" {
		image = viper.GetString("inspector.image")
	}

	rt, err := container.DetectRuntime()
	if err != nil {
		return err
	}

	cfg := types.InspectorConfig{Image: image}
	return container.Inspect(rt, cfg, args[0], os.Stdout)
}
