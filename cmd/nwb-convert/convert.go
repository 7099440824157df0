package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/nwb-convert/internal/converter"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

var convertCmd = &cobra.Command{
	Use:   "convert <spec.yaml | data-path...>",
	Short: "Convert acquisition data into a session artifact",
	Long: `Convert runs every data interface listed in a conversion spec and writes
one session artifact. Raw data paths may be given instead of a spec; the
interface for each is detected from its extension or folder layout.
Metadata extracted from the source headers is merged with the optional
--metadata overrides file; user values win.

Use --stub for a fast trial conversion that truncates every series to a
handful of frames before committing to a full run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

// buildConverter accepts either a single conversion spec file or a list of
// raw data paths.
func buildConverter(args []string) (*converter.Converter, error) {
	if len(args) == 1 && (strings.HasSuffix(args[0], ".yaml") || strings.HasSuffix(args[0], ".yml")) {
		spec, err := converter.LoadSpec(args[0])
		if err != nil {
			return nil, err
		}
		return converter.FromSpec(spec)
	}
	return converter.FromPaths(args...)
}

func init() {
	convertCmd.Flags().String("output", "", "artifact path (default: <output-dir>/<session_id>"+session.Ext+")")
	convertCmd.Flags().String("output-dir", ".", "directory for artifacts when --output is not given")
	convertCmd.Flags().String("metadata", "", "metadata overrides file (YAML)")
	convertCmd.Flags().String("compression", "", "chunk codec: none, gzip, or brotli (default gzip)")
	convertCmd.Flags().Bool("overwrite", false, "replace an existing artifact instead of appending")
	convertCmd.Flags().Bool("stub", false, "trial conversion: truncate every series")
	convertCmd.Flags().Int("stub-frames", 0, "frame budget in stub mode (default 100)")
	convertCmd.Flags().Float64("chunk-mb", 0, "target chunk size in MiB (default 1)")
	convertCmd.Flags().Float64("buffer-gb", 0, "read buffer budget in GiB (default 1)")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
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

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		outputDir, _ := cmd.Flags().GetString("output-dir")
		if v := viper.GetString("conversion.output_dir"); v != "" && !cmd.Flags().Changed("output-dir") {
			outputDir = v
		}
		name := meta.Session.SessionID
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		output = filepath.Join(outputDir, name+session.Ext)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	compression, _ := cmd.Flags().GetString("compression")
	if compression == "" {
		compression = viper.GetString("conversion.compression")
	}
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	stub, _ := cmd.Flags().GetBool("stub")
	stubFrames, _ := cmd.Flags().GetInt("stub-frames")
	chunkMB, _ := cmd.Flags().GetFloat64("chunk-mb")
	bufferGB, _ := cmd.Flags().GetFloat64("buffer-gb")

	opts := converter.RunOptions{
		OutputPath:  output,
		Overwrite:   overwrite,
		Stub:        stub,
		StubFrames:  stubFrames,
		Compression: types.Compression(compression),
		ChunkMB:     chunkMB,
		BufferGB:    bufferGB,
		Tool:        "nwb-convert " + version,
	}

	result, err := c.Run(cmd.Context(), meta, opts, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", output)
	if result.HasFailures() {
		return fmt.Errorf("%d interface(s) failed conversion", result.Failed)
	}
	return nil
}
