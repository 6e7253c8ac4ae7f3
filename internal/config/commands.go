package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/daviddao/ramwiz_viewer/internal/style"
	"github.com/daviddao/ramwiz_viewer/internal/trace"
)

// CommandConfig assigns a color and a clock-cycle duration to command ids.
type CommandConfig struct {
	Colors       map[uint8]string  `yaml:"colors,omitempty" json:"colors,omitempty"`
	ClockPeriods map[uint8]float64 `yaml:"clockPeriods,omitempty" json:"clockPeriods,omitempty"`
}

// Style builds the 256-entry style table. The table is always usable; the
// error lists entries that were ignored.
func (c *CommandConfig) Style() (*style.Table, error) {
	if c == nil {
		return style.Default(), nil
	}
	return style.Build(c.Colors, c.ClockPeriods)
}

// MemoryLayout describes the DRAM geometry behind wide-schema lanes.
type MemoryLayout struct {
	NumChannels   uint8 `yaml:"numChannels" json:"numChannels"`
	NumBankgroups uint8 `yaml:"numBankgroups" json:"numBankgroups"`
	NumBanks      uint8 `yaml:"numBanks" json:"numBanks"`
}

// Layout converts m for the trace backend. A nil layout yields the zero
// Layout, which places events on the lane of their command id.
func (m *MemoryLayout) Layout() trace.Layout {
	if m == nil {
		return trace.Layout{}
	}
	return trace.Layout{
		Channels:   int(m.NumChannels),
		Bankgroups: int(m.NumBankgroups),
		Banks:      int(m.NumBanks),
	}
}

// FullConfig is the on-disk command configuration document.
type FullConfig struct {
	CommandConfig *CommandConfig `yaml:"command_config,omitempty" json:"command_config,omitempty"`
	MemoryLayout  *MemoryLayout  `yaml:"memory_layout,omitempty" json:"memory_layout,omitempty"`
}

// ParseFull decodes a FullConfig document.
func ParseFull(data []byte) (*FullConfig, error) {
	var full FullConfig
	if err := yaml.Unmarshal(data, &full); err != nil {
		return nil, fmt.Errorf("parse command config: %w", err)
	}
	return &full, nil
}

// ReadFull reads a FullConfig from path.
func ReadFull(path string) (*FullConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command config: %w", err)
	}
	full, err := ParseFull(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return full, nil
}

// WriteFull writes full to path as YAML, creating parent directories.
func WriteFull(path string, full *FullConfig) error {
	data, err := yaml.Marshal(full)
	if err != nil {
		return fmt.Errorf("encode command config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write command config: %w", err)
	}
	return nil
}

// Source supplies the command configuration for a stream session.
type Source interface {
	LoadCommandConfig() (*CommandConfig, error)
	LoadMemoryLayout() (*MemoryLayout, error)
}

// FileSource reads the command configuration from a YAML file on every call.
// A missing file means no configuration.
type FileSource struct {
	Path string
}

var _ Source = FileSource{}

func (s FileSource) load() (*FullConfig, error) {
	if s.Path == "" {
		return &FullConfig{}, nil
	}
	full, err := ReadFull(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return &FullConfig{}, nil
	}
	return full, err
}

func (s FileSource) LoadCommandConfig() (*CommandConfig, error) {
	full, err := s.load()
	if err != nil {
		return nil, err
	}
	return full.CommandConfig, nil
}

func (s FileSource) LoadMemoryLayout() (*MemoryLayout, error) {
	full, err := s.load()
	if err != nil {
		return nil, err
	}
	return full.MemoryLayout, nil
}

// Export writes the configuration held by src to path.
func Export(src Source, path string) error {
	cc, err := src.LoadCommandConfig()
	if err != nil {
		return err
	}
	ml, err := src.LoadMemoryLayout()
	if err != nil {
		return err
	}
	return WriteFull(path, &FullConfig{CommandConfig: cc, MemoryLayout: ml})
}

// Import reads the document at path and merges it into the file at dst.
// Sections absent from the document keep their current value. A document
// with unparseable colors is rejected.
func Import(path, dst string) (*FullConfig, error) {
	in, err := ReadFull(path)
	if err != nil {
		return nil, err
	}
	if _, err := in.CommandConfig.Style(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cur, err := FileSource{Path: dst}.load()
	if err != nil {
		return nil, err
	}
	if in.CommandConfig != nil {
		cur.CommandConfig = in.CommandConfig
	}
	if in.MemoryLayout != nil {
		cur.MemoryLayout = in.MemoryLayout
	}
	if err := WriteFull(dst, cur); err != nil {
		return nil, err
	}
	return cur, nil
}
