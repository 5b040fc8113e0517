package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/cellsim/systems"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOutput(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateDefaults(t *testing.T) {
	out, err := execute(t, "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{"ok: 6 species, 5 reactions, 12 walls, 9 regions", "3 releases (1200 molecules)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("simulation: {time_step: -1}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "validate", "--config", path); err == nil {
		t.Error("validate accepted a negative time step")
	}
}

func TestRunWritesOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	if _, err := execute(t, "run", "--iterations", "3", "--output-dir", dir, "--log-format", "text"); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"run.json", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestRunReportsDegenerateGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.yaml")
	body := `
objects:
  - name: flat
    vertices: [[0, 0, 0], [0.1, 0, 0], [0.2, 0, 0]]
    triangles: [[0, 1, 2]]
releases: []
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "run", "--config", path, "--iterations", "1")
	if err == nil {
		t.Fatal("run accepted a degenerate wall")
	}
	for _, want := range []string{`"msg":"fatal engine error"`, `"kind":"geometry"`, `"wall":0`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %s", out, want)
		}
	}
}

func TestSetupLoggerFormats(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{"json", false},
		{"text", false},
		{"", false},
		{"xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			_, err := setupLogger(&bytes.Buffer{}, tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("setupLogger(%q) error = %v", tt.format, err)
			}
		})
	}
}

func TestReportRunErrorNamesWall(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	fatal := &systems.FatalError{Kind: systems.FatalGeometry, Molecule: 4, Wall: 7, Object: 1, Err: errors.New("degenerate")}
	reportRunError(logger, fmt.Errorf("iteration 12: %w", fatal))

	out := buf.String()
	for _, want := range []string{`"msg":"fatal engine error"`, `"kind":"geometry"`, `"wall":7`, `"object":1`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %s", out, want)
		}
	}
}
