package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/daviddao/ramwiz_viewer/internal/config"
	"github.com/daviddao/ramwiz_viewer/internal/datasource"
	"github.com/daviddao/ramwiz_viewer/internal/trace"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(testContext(&logs))
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "rwv dev\n" {
		t.Errorf("version output = %q", out)
	}
}

func TestGenAndInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ram2")
	if _, err := execute(t, "gen", "--events", "100", "--commands", "3", "--seed", "7", path); err != nil {
		t.Fatalf("gen: %v", err)
	}

	out, err := execute(t, "info", "--json", path)
	if err != nil {
		t.Fatalf("info --json: %v", err)
	}
	var md trace.Metadata
	if err := json.Unmarshal([]byte(out), &md); err != nil {
		t.Fatalf("decode info: %v\n%s", err, out)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if md.TotalEvents != 100 || md.FileSize != fi.Size() || md.Truncated {
		t.Errorf("metadata = %+v", md)
	}
	if diff := cmp.Diff([]string{"ACT", "PRE", "RD"}, md.Commands); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	if md.TimeRange[1] <= md.TimeRange[0] {
		t.Errorf("time range = %v", md.TimeRange)
	}

	out, err = execute(t, "info", path)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	for _, want := range []string{"trace     " + path, "events    100\n", "commands  ACT PRE RD\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
}

func TestInfoUsesTraceEnv(t *testing.T) {
	path := genTrace(t, 10)
	t.Setenv(datasource.TraceEnv, path)
	out, err := execute(t, "info")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "events    10\n") {
		t.Errorf("info output = %q", out)
	}
}

func TestInfoWithoutTrace(t *testing.T) {
	t.Setenv(datasource.TraceEnv, "")
	if _, err := execute(t, "info"); !errors.Is(err, datasource.ErrNoTrace) {
		t.Fatalf("expected ErrNoTrace, got %v", err)
	}
}

func TestGenRejectsCommandCount(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.ram2")
	for _, n := range []string{"0", "256"} {
		if _, err := execute(t, "gen", "--commands", n, out); err == nil || !strings.Contains(err.Error(), "want 1..255") {
			t.Errorf("--commands %s: got %v", n, err)
		}
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("rejected gen created the output file")
	}
}

func TestCommandNames(t *testing.T) {
	names, err := commandNames(10)
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]string(nil), trace.DefaultCommands...), "CMD8", "CMD9")
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
}

func TestConfigImportExport(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "colors.yaml")
	if err := os.WriteFile(doc, []byte("command_config:\n  colors:\n    0: \"#ff0000\"\nmemory_layout:\n  numChannels: 1\n  numBankgroups: 2\n  numBanks: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := filepath.Join(dir, ".ramwiz", "commands.yaml")

	if _, err := execute(t, "config", "import", "--commands", store, doc); err != nil {
		t.Fatalf("import: %v", err)
	}
	out := filepath.Join(dir, "export.yaml")
	if _, err := execute(t, "config", "export", "--commands", store, out); err != nil {
		t.Fatalf("export: %v", err)
	}

	want, err := config.ReadFull(doc)
	if err != nil {
		t.Fatal(err)
	}
	got, err := config.ReadFull(out)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exported (-want +got):\n%s", diff)
	}
}

func TestConfigImportDiscoversCommandsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(datasource.CommandsEnv, "")
	t.Chdir(dir)
	doc := filepath.Join(dir, "colors.yaml")
	if err := os.WriteFile(doc, []byte("command_config:\n  colors:\n    3: \"#00ff00\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "import", doc); err != nil {
		t.Fatalf("import: %v", err)
	}
	full, err := config.ReadFull(filepath.Join(dir, ".ramwiz", "commands.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if full.CommandConfig == nil || full.CommandConfig.Colors[3] != "#00ff00" {
		t.Errorf("stored config = %+v", full.CommandConfig)
	}
}

func TestViewRejectsBadConfig(t *testing.T) {
	t.Setenv("RAMWIZ_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	path := genTrace(t, 10)

	bad := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(bad, []byte("render:\n  fps: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "view", "--config", bad, path); err == nil || !strings.Contains(err.Error(), "render.fps") {
		t.Errorf("bad config: got %v", err)
	}
	if _, err := execute(t, "view", "--schema", "huge", path); err == nil || !strings.Contains(err.Error(), "schema") {
		t.Errorf("bad schema flag: got %v", err)
	}

	t.Setenv(datasource.TraceEnv, "")
	if _, err := execute(t, "view"); !errors.Is(err, datasource.ErrNoTrace) {
		t.Errorf("missing trace: got %v", err)
	}
}
