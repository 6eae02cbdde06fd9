//go:build linux

package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// eznat66Binary holds the path to the compiled eznat66 binary used by all e2e tests.
var eznat66Binary string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "eznat66-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	eznat66Binary = filepath.Join(tmpDir, "eznat66")

	buildCmd := exec.Command("go", "build", "-o", eznat66Binary, "github.com/easzlab/eznat66/cmd/eznat66")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build eznat66 binary: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}
