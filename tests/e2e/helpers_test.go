//go:build linux

package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// runEznat66 executes the binary with args and asserts a successful exit.
// Returns the combined stdout and stderr output.
func runEznat66(t *testing.T, args ...string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(eznat66Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("eznat66 %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}
	return stdout.String() + stderr.String()
}

// runEznat66ExpectFailure executes the binary with args and expects a non-zero exit code.
// Returns stdout and stderr.
func runEznat66ExpectFailure(t *testing.T, args ...string) (string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(eznat66Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err == nil {
		t.Fatalf("expected eznat66 %v to fail, but it succeeded\nstdout: %s\nstderr: %s", args, stdout.String(), stderr.String())
	}
	return stdout.String(), stderr.String()
}

// writeTestConfig writes YAML content to a config file in the given directory.
func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	configPath := filepath.Join(dir, "eznat66.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configPath
}
