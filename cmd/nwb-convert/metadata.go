package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/nwb-convert/internal/converter"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata <spec.yaml | data-path...>",
	Short: "Preview the merged metadata of a conversion",
	Long: `Metadata builds the conversion described by a spec file or detected from
raw data paths, merges the metadata every interface extracts from its
source headers, applies the session defaults, and prints the result as
YAML. Edit the output into a metadata overrides file and pass it to
convert with --metadata.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMetadata,
}

func init() {
	metadataCmd.Flags().String("metadata", "", "metadata overrides file to merge on top")
	metadataCmd.Flags().Bool("schema", false, "print the metadata schema with current values as defaults")

	rootCmd.AddCommand(metadataCmd)
}

func runMetadata(cmd *cobra.Command, args []string) error {
	c, err := buildConverter(args)
	if err != nil {
		return err
	}

	meta, err := c.Metadata()
	if err != nil {
		return err
	}

	if overridesPath, _ := cmd.Flags().GetString("metadata"); overridesPath != "" {
		user, err := converter.LoadUserMetadata(overridesPath)
		if err != nil {
			return err
		}
		if meta, err = converter.MergeUser(meta, user); err != nil {
			return err
		}
	}

	if err := converter.ValidateMetadata(meta); err != nil {
		return err
	}

	if asSchema, _ := cmd.Flags().GetBool("schema"); asSchema {
		s, err := converter.MetadataSchemaWithDefaults(meta)
		if err != nil {
			return err
		}
		raw, err := yaml.Marshal(s)
		if err != nil {
			return fmt.Errorf("encoding metadata schema: %w", err)
		}
		_, err = os.Stdout.Write(raw)
		return err
	}

	raw, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = os.Stdout.Write(raw)
	return err
}
