package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/nwb-convert/internal/archive"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

const defaultUserAgent = "nwb-convert/0.1"

var uploadCmd = &cobra.Command{
	Use:   "upload <artifact>",
	Short: "Upload a session artifact to the data archive",
	Long: `Upload pushes a finished session artifact to the configured archive in
chunks, each verified by its SHA-256 digest, and finalizes the upload.
The API key is read from --api-key, the archive.api_key config entry, or
.secrets/archive-api-key.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().String("base-url", "", "archive API root URL")
	uploadCmd.Flags().String("api-key", "", "archive API key")
	uploadCmd.Flags().Int("chunk-size-mb", 0, "upload part size in MiB (default 16)")
	uploadCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")

	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	baseURL, _ := cmd.Flags().GetString("base-url")
	if baseURL == "" {
		baseURL = viper.GetString("archive.base_url")
	}
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = viper.GetString("archive.api_key")
	}
	apiKey = secretDefault("archive-api-key", apiKey)

	chunkMB, _ := cmd.Flags().GetInt("chunk-size-mb")
	if chunkMB == 0 {
		chunkMB = viper.GetInt("archive.chunk_size_mb")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	cfg := types.ArchiveConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   timeout,
			UserAgent: defaultUserAgent,
		},
		BaseURL:     baseURL,
		APIKey:      apiKey,
		ChunkSizeMB: chunkMB,
	}

	client, err := archive.NewClient(cfg)
	if err != nil {
		return err
	}

	res, err := client.Upload(cmd.Context(), args[0], os.Stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "blob %s (%d bytes, sha256 %s)\n", res.BlobID, res.Size, res.Digest)
	return nil
}
