package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a service configuration into a temp dir and returns
// its path. extra is appended verbatim.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
site:
  id: test-site

database:
  path: "` + filepath.Join(dir, "test.db") + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "emsbridge-test"
  qos: 1

logging:
  level: info
  format: text
  output: stdout
` + extra
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

// TestRun_BridgeDisabled verifies run refuses to start without the bridge.
func TestRun_BridgeDisabled(t *testing.T) {
	path := writeConfig(t, `
protocols:
  ems:
    enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, path); !errors.Is(err, errBridgeDisabled) {
		t.Errorf("run() error = %v, want errBridgeDisabled", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// execute runs the command tree with args and returns its output.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"run", "decode", "profiles", "types", "monitor"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{name})
			if err != nil {
				t.Fatalf("Find(%q) error = %v", name, err)
			}
			if cmd.Name() != name {
				t.Errorf("Find(%q) = %q", name, cmd.Name())
			}
		})
	}
}

func TestRootCmd_Version(t *testing.T) {
	out, err := execute(t, "", "--version")
	if err != nil {
		t.Fatalf("--version error = %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("--version output = %q, want it to contain %q", out, version)
	}
}

func TestRootCmd_ConfigFlagOverridesEnv(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/env.yaml")
	path := writeConfig(t, "")

	out, err := execute(t, "", "--config", path, "types")
	if err != nil {
		t.Fatalf("types error = %v", err)
	}
	if !strings.Contains(out, "no telegram types recorded") {
		t.Errorf("types output = %q", out)
	}
}

func TestRootCmd_ConfigFromEnv(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/env.yaml")

	_, err := execute(t, "", "types")
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("types error = %v, want loading config failure", err)
	}
}
