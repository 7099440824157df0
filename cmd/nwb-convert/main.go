// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the nwb-convert CLI.
// Implements: prd001-formats, prd002-metadata, prd003-converter,
//             prd004-session, prd005-archive, prd006-inspector (CLI surface).
// See docs/ARCHITECTURE § Pipeline Interface, § Project Structure.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/nwb-convert/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds credentials loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault returns fallback when set, otherwise the secret value for
// key if one was loaded.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the nwb-convert CLI.
var rootCmd = &cobra.Command{
	Use:   "nwb-convert",
	Short: "Convert neurophysiology acquisition data into session artifacts",
	Long: `nwb-convert reads proprietary neurophysiology acquisition formats
(NeuroScope, Neuralynx, Intan, TIFF imaging stacks, NumPy segmentation
masks) and writes them into a single standardized session artifact with
merged metadata.

Each stage is a subcommand: formats lists the supported data interfaces,
metadata previews the merged metadata for a conversion, convert runs it,
inspect summarizes an artifact, validate runs the containerized inspector,
and upload pushes a finished artifact to a data archive.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env beside the working directory seeds NWB_CONVERT_* variables.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
		}

		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./nwb-convert.yaml or ~/.config/nwb-convert/config.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("nwb-convert")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "nwb-convert"))
		}
	}

	viper.SetEnvPrefix("NWB_CONVERT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
