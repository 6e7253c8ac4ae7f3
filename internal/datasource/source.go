// Package datasource discovers the trace and command configuration files and
// opens the trace backend.
package datasource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daviddao/ramwiz_viewer/internal/trace"
)

const (
	// TraceEnv names the trace file when no path is given.
	TraceEnv = "RAMWIZ_TRACE"
	// CommandsEnv names the command configuration file.
	CommandsEnv = "RAMWIZ_COMMANDS"

	defaultDir      = ".ramwiz"
	defaultCommands = ".ramwiz/commands.yaml"
)

// ErrNoTrace reports that no trace path was given.
var ErrNoTrace = errors.New("no trace file given (pass a path or set " + TraceEnv + ")")

// DiscoverTrace resolves the trace path.
// Priority: path argument > RAMWIZ_TRACE. The file must exist.
func DiscoverTrace(path string) (string, error) {
	if path == "" {
		path = os.Getenv(TraceEnv)
	}
	if path == "" {
		return "", ErrNoTrace
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("trace %q: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %s: %w", path, err)
	}
	return abs, nil
}

// DiscoverCommands resolves the command configuration path.
// Priority: path argument > RAMWIZ_COMMANDS > .ramwiz/commands.yaml in CWD >
// walk up parents. When nothing exists the CWD location is returned with
// found false, so callers can still write there.
func DiscoverCommands(path string) (resolved string, found bool, err error) {
	if path == "" {
		path = os.Getenv(CommandsEnv)
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", false, fmt.Errorf("resolve absolute path for %s: %w", path, err)
		}
		_, statErr := os.Stat(abs)
		return abs, statErr == nil, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("get working directory: %w", err)
	}
	fallback := filepath.Join(dir, defaultCommands)
	for {
		candidate := filepath.Join(dir, defaultCommands)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return fallback, false, nil
}

// Open discovers and opens the trace file.
func Open(path string, opts trace.Options) (*trace.File, error) {
	p, err := DiscoverTrace(path)
	if err != nil {
		return nil, err
	}
	f, err := trace.Open(p, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}
