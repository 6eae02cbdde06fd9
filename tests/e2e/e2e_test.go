//go:build linux

package e2e

import (
	"os"
	"strings"
	"testing"
)

const validConfig = `
global:
  log_level: info
interfaces:
  - name: lan0
    role: inside
  - name: wan0
    role: outside
mappings:
  - inside: 2001:db8::1
    outside: 2001:db8:ffff::1
  - inside: 2001:db8::2
    outside: 2001:db8:ffff::2
`

func TestE2E_Version(t *testing.T) {
	output := runEznat66(t, "version")
	if !strings.Contains(output, "eznat66 version") {
		t.Errorf("unexpected version output: %q", output)
	}
}

func TestE2E_ValidateAcceptsValidConfig(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir(), validConfig)

	output := runEznat66(t, "validate", "-c", configPath)
	if !strings.Contains(output, "2 interfaces, 2 mappings") {
		t.Errorf("unexpected validate output: %q", output)
	}
}

func TestE2E_ValidateRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "no outside interface",
			content: `
interfaces:
  - name: lan0
    role: inside
`,
			wantErr: "outside interface",
		},
		{
			name: "ipv4 mapping",
			content: `
interfaces:
  - name: wan0
    role: outside
mappings:
  - inside: 192.0.2.1
    outside: 2001:db8:ffff::1
`,
			wantErr: "not an IPv6 address",
		},
		{
			name: "duplicate outside address",
			content: `
interfaces:
  - name: wan0
    role: outside
mappings:
  - inside: 2001:db8::1
    outside: 2001:db8:ffff::1
  - inside: 2001:db8::2
    outside: 2001:db8:ffff::1
`,
			wantErr: "duplicate outside address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeTestConfig(t, t.TempDir(), tt.content)
			stdout, stderr := runEznat66ExpectFailure(t, "validate", "-c", configPath)
			if !strings.Contains(stdout+stderr, tt.wantErr) {
				t.Errorf("expected error containing %q, got stdout=%q stderr=%q", tt.wantErr, stdout, stderr)
			}
		})
	}
}

func TestE2E_ValidateMissingFile(t *testing.T) {
	runEznat66ExpectFailure(t, "validate", "-c", "/nonexistent/eznat66.yaml")
}

func TestE2E_CleanupWithoutRules(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("cleanup manages ip6tables and requires root")
	}
	runEznat66(t, "cleanup")
}
