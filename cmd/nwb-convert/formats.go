package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/nwb-convert/internal/formats"
)

var formatsCmd = &cobra.Command{
	Use:   "formats [path]",
	Short: "List supported data interfaces or detect the format of a path",
	Long: `Formats lists the registered data interfaces with the extensions they
claim and the source fields they take. With a path argument it instead
detects which interface reads that file or folder.`,
	RunE: runFormats,
}

func init() {
	formatsCmd.Flags().Bool("schemas", false, "print the full source schema of each interface as YAML")

	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("at most one path may be given")
	}

	if len(args) == 1 {
		det, err := formats.Detect(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "interface: %s\n", det.Interface)
		for _, k := range sortedKeys(det.Source) {
			fmt.Fprintf(os.Stdout, "  %s: %v\n", k, det.Source[k])
		}
		return nil
	}

	withSchemas, _ := cmd.Flags().GetBool("schemas")
	for _, d := range formats.Registered() {
		fmt.Fprintf(os.Stdout, "%-22s %-13s %-12s %s\n",
			d.Name, d.Modality, strings.Join(d.Extensions, ","), d.Description)
		if withSchemas {
			raw, err := yaml.Marshal(d.SourceSchema)
			if err != nil {
				return fmt.Errorf("encoding schema of %s: %w", d.Name, err)
			}
			for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
				fmt.Fprintf(os.Stdout, "    %s\n", line)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
