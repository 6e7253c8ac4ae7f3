package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/daviddao/ramwiz_viewer/internal/style"
	"github.com/daviddao/ramwiz_viewer/internal/trace"
)

const sampleCommands = `
command_config:
  colors:
    0: "#ff0000"
    2: "#00ff00"
  clockPeriods:
    0: 4
    2: 2.5
memory_layout:
  numChannels: 2
  numBankgroups: 4
  numBanks: 4
`

func TestParseFull(t *testing.T) {
	full, err := ParseFull([]byte(sampleCommands))
	if err != nil {
		t.Fatalf("ParseFull: %v", err)
	}
	want := &FullConfig{
		CommandConfig: &CommandConfig{
			Colors:       map[uint8]string{0: "#ff0000", 2: "#00ff00"},
			ClockPeriods: map[uint8]float64{0: 4, 2: 2.5},
		},
		MemoryLayout: &MemoryLayout{NumChannels: 2, NumBankgroups: 4, NumBanks: 4},
	}
	if diff := cmp.Diff(want, full); diff != "" {
		t.Errorf("FullConfig (-want +got):\n%s", diff)
	}
	if got := full.MemoryLayout.Layout(); got != (trace.Layout{Channels: 2, Bankgroups: 4, Banks: 4}) {
		t.Errorf("Layout = %+v", got)
	}
}

func TestCommandConfigStyle(t *testing.T) {
	cc := &CommandConfig{Colors: map[uint8]string{1: "#0000ff"}, ClockPeriods: map[uint8]float64{1: 8}}
	st, err := cc.Style()
	if err != nil {
		t.Fatal(err)
	}
	if st[1] != (style.Entry{Color: style.RGB{B: 0xff}, ClockPeriod: 8}) {
		t.Errorf("entry 1 = %+v", st[1])
	}
	if st[0].Color != style.DefaultColor {
		t.Errorf("entry 0 = %+v, want default", st[0])
	}

	var none *CommandConfig
	if st, err := none.Style(); err != nil || st[7].ClockPeriod != style.DefaultClockPeriod {
		t.Errorf("nil config style = %+v, %v", st[7], err)
	}
	if (*MemoryLayout)(nil).Layout() != (trace.Layout{}) {
		t.Error("nil layout should be zero")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	missing := FileSource{Path: filepath.Join(dir, "absent.yaml")}
	if cc, err := missing.LoadCommandConfig(); cc != nil || err != nil {
		t.Errorf("missing file = %+v, %v", cc, err)
	}

	path := filepath.Join(dir, "commands.yaml")
	if err := os.WriteFile(path, []byte(sampleCommands), 0o600); err != nil {
		t.Fatal(err)
	}
	src := FileSource{Path: path}
	cc, err := src.LoadCommandConfig()
	if err != nil || cc == nil || cc.Colors[2] != "#00ff00" {
		t.Fatalf("LoadCommandConfig = %+v, %v", cc, err)
	}
	ml, err := src.LoadMemoryLayout()
	if err != nil || ml == nil || ml.NumBanks != 4 {
		t.Fatalf("LoadMemoryLayout = %+v, %v", ml, err)
	}

	if err := os.WriteFile(path, []byte("command_config: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := src.LoadCommandConfig(); err == nil || !strings.Contains(err.Error(), "parse command config") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store", "commands.yaml")
	if err := os.MkdirAll(filepath.Dir(store), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store, []byte(sampleCommands), 0o600); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "export.yaml")
	if err := Export(FileSource{Path: store}, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	exported, err := ReadFull(out)
	if err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(dir, "fresh", "commands.yaml")
	imported, err := Import(out, fresh)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if diff := cmp.Diff(exported, imported); diff != "" {
		t.Errorf("imported (-want +got):\n%s", diff)
	}
	onDisk, err := ReadFull(fresh)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(exported, onDisk); diff != "" {
		t.Errorf("stored (-want +got):\n%s", diff)
	}
}

func TestImportKeepsAbsentSections(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "commands.yaml")
	if err := os.WriteFile(store, []byte(sampleCommands), 0o600); err != nil {
		t.Fatal(err)
	}
	doc := filepath.Join(dir, "colors.yaml")
	if err := os.WriteFile(doc, []byte("command_config:\n  colors:\n    5: \"#123456\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	merged, err := Import(doc, store)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if merged.CommandConfig.Colors[5] != "#123456" || merged.CommandConfig.Colors[0] != "" {
		t.Errorf("command config not replaced: %+v", merged.CommandConfig)
	}
	if merged.MemoryLayout == nil || merged.MemoryLayout.NumChannels != 2 {
		t.Errorf("memory layout lost: %+v", merged.MemoryLayout)
	}
}

func TestImportRejectsBadColor(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(doc, []byte("command_config:\n  colors:\n    1: chartreuse\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := filepath.Join(dir, "commands.yaml")
	if _, err := Import(doc, store); err == nil || !strings.Contains(err.Error(), "command 1") {
		t.Fatalf("expected color error, got %v", err)
	}
	if _, err := os.Stat(store); !os.IsNotExist(err) {
		t.Errorf("rejected import wrote %s", store)
	}
}

func TestExportOmitsAbsentSections(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "commands.yaml")
	if err := os.WriteFile(store, []byte("command_config:\n  colors:\n    0: \"#ff0000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "export.yaml")
	if err := Export(FileSource{Path: store}, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, absent := range []string{"clockPeriods", "memory_layout"} {
		if strings.Contains(string(data), absent) {
			t.Errorf("export contains %s:\n%s", absent, data)
		}
	}

	exported, err := ReadFull(out)
	if err != nil {
		t.Fatal(err)
	}
	want := &FullConfig{CommandConfig: &CommandConfig{Colors: map[uint8]string{0: "#ff0000"}}}
	if diff := cmp.Diff(want, exported); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}
