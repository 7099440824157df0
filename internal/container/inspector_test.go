// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdiddy/nwb-convert/pkg/types"
)

func TestRunMounted(t *testing.T) {
	var gotName string
	var gotArgs []string
	exec := &mockExecutor{
		runPipedFunc: func(name string, args []string, stdin io.Reader, stdout io.Writer) error {
			gotName = name
			gotArgs = args
			stdout.Write([]byte("0 violations\n"))
			return nil
		},
	}
	rt := newDockerRuntime(exec)

	var out bytes.Buffer
	err := rt.RunMounted("nwb-inspect:latest", "/work/ses01.nwb.db", "/data/ses01.nwb.db",
		[]string{"/data/ses01.nwb.db"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "docker" {
		t.Errorf("ran %q, want docker", gotName)
	}
	want := []string{"run", "--rm",
		"-v", "/work/ses01.nwb.db:/data/ses01.nwb.db:ro",
		"nwb-inspect:latest", "/data/ses01.nwb.db"}
	if strings.Join(gotArgs, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}
	if out.String() != "0 violations\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestInspect(t *testing.T) {
	exec := &mockExecutor{
		runnableCmds: map[string]bool{"docker image inspect nwb-inspect:1.2": true},
		runPipedFunc: func(name string, args []string, stdin io.Reader, stdout io.Writer) error {
			stdout.Write([]byte("report: clean\n"))
			return nil
		},
	}
	rt := newDockerRuntime(exec)

	artifact := filepath.Join(t.TempDir(), "ses01.nwb.db")
	var out bytes.Buffer
	err := Inspect(rt, types.InspectorConfig{Image: "nwb-inspect:1.2"}, artifact, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "inspecting: ses01.nwb.db") {
		t.Errorf("missing status line: %q", out.String())
	}
	if !strings.Contains(out.String(), "report: clean") {
		t.Errorf("missing report: %q", out.String())
	}
}

func TestInspect_MissingImage(t *testing.T) {
	rt := newDockerRuntime(&mockExecutor{runnableCmds: map[string]bool{}})

	err := Inspect(rt, types.InspectorConfig{Image: "nwb-inspect:9"}, "/tmp/a.nwb.db", io.Discard)
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if !strings.Contains(err.Error(), "nwb-inspect:9") {
		t.Errorf("error should name the image: %v", err)
	}
}
