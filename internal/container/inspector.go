// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/pdiddy/nwb-convert/pkg/types"
)

// DefaultInspectorImage is the inspector image used when the config leaves
// it unset.
const DefaultInspectorImage = "ghcr.io/pdiddy/nwb-inspect:latest"

// Inspect runs the containerized best-practices inspector against an
// artifact. The artifact is bind-mounted read-only and the inspector's
// report streams to w.
func Inspect(rt Runtime, cfg types.InspectorConfig, artifactPath string, w io.Writer) error {
	image := cfg.Image
	if image == "" {
		image = DefaultInspectorImage
	}
	if err := rt.ImageExists(image); err != nil {
		return fmt.Errorf("inspector image check: %w", err)
	}

	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		return fmt.Errorf("resolving artifact path: %w", err)
	}
	containerPath := "/data/" + filepath.Base(abs)

	fmt.Fprintf(w, "inspecting: %s (image %s, runtime %s)\n",
		filepath.Base(abs), image, rt.Name())
	return rt.RunMounted(image, abs, containerPath, []string{containerPath}, w)
}
