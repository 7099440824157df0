package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/nwb-convert/internal/formats"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <artifact | data-path>",
	Short: "Summarize an artifact or a raw data source",
	Long: `Inspect opens a session artifact and prints its session header, devices,
electrode groups, stored series, unit and mask counts, and conversion
provenance. Given a raw data path instead, it detects the matching data
interface and prints the metadata extracted from the source headers.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().Bool("json", false, "output the summary as JSON")

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	if strings.HasSuffix(args[0], session.Ext) {
		r, err := session.Open(args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		sum, err := r.Summarize()
		if err != nil {
			return err
		}
		return printReport(sum, asJSON)
	}

	det, err := formats.Detect(args[0])
	if err != nil {
		return err
	}
	iface, err := formats.Build(det.Interface, det.Source)
	if err != nil {
		return err
	}
	report := struct {
		Interface string         `json:"interface" yaml:"interface"`
		Source    map[string]any `json:"source" yaml:"source"`
		Metadata  types.Metadata `json:"metadata" yaml:"metadata"`
	}{det.Interface, det.Source, iface.Metadata()}
	return printReport(report, asJSON)
}

func printReport(v any, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = os.Stdout.Write(raw)
	return err
}
