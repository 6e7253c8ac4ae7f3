package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"github.com/daviddao/ramwiz_viewer/internal/config"
	"github.com/daviddao/ramwiz_viewer/internal/datasource"
	"github.com/daviddao/ramwiz_viewer/internal/trace"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "rwv %s\n", Version)
			return err
		},
	}
}

func newInfoCmd() *cobra.Command {
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "info [trace]",
		Short: "Print trace metadata and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := datasource.Open(firstArg(args), trace.Options{})
			if err != nil {
				return err
			}
			defer f.Close()
			md := f.Metadata()
			if jsonMode {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(md)
			}
			return writeInfo(cmd.OutOrStdout(), md)
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print metadata as JSON")
	return cmd
}

func writeInfo(w io.Writer, md trace.Metadata) error {
	events := fmt.Sprintf("%d", md.TotalEvents)
	if md.Truncated {
		events += " (truncated)"
	}
	_, err := fmt.Fprintf(w, "trace     %s\nsize      %d bytes\nevents    %s\nclocks    %d .. %d\ncommands  %s\n",
		md.Path, md.FileSize, events, md.TimeRange[0], md.TimeRange[1], strings.Join(md.Commands, " "))
	return err
}

func newGenCmd() *cobra.Command {
	var (
		opts     trace.GenOptions
		commands int
	)
	cmd := &cobra.Command{
		Use:   "gen <out>",
		Short: "Write a synthetic trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := commandNames(commands)
			if err != nil {
				return err
			}
			opts.Commands = names
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create trace: %w", err)
			}
			if err := trace.Generate(f, opts); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close trace: %w", err)
			}
			pslog.Ctx(cmd.Context()).Info("trace generated", "path", args[0], "events", opts.Events, "commands", len(names))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&opts.Events, "events", 1_000_000, "number of entries")
	cmd.Flags().IntVar(&commands, "commands", len(trace.DefaultCommands), "number of distinct commands (1..255)")
	cmd.Flags().IntVar(&opts.Layout.Channels, "channels", 2, "memory channels")
	cmd.Flags().IntVar(&opts.Layout.Bankgroups, "bankgroups", 4, "bank groups per channel")
	cmd.Flags().IntVar(&opts.Layout.Banks, "banks", 4, "banks per bank group")
	cmd.Flags().IntVar(&opts.MeanGap, "gap", 4, "mean clocks between commands")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed")
	return cmd
}

// commandNames returns n names, the standard DRAM commands first.
func commandNames(n int) ([]string, error) {
	if n < 1 || n > 255 {
		return nil, fmt.Errorf("--commands %d: want 1..255", n)
	}
	names := make([]string, n)
	for i := range names {
		if i < len(trace.DefaultCommands) {
			names[i] = trace.DefaultCommands[i]
		} else {
			names[i] = fmt.Sprintf("CMD%d", i)
		}
	}
	return names, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Import or export the command configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export <file>",
		Short: "Write the command configuration and memory layout to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := commandsPath(cmd)
			if err != nil {
				return err
			}
			if err := config.Export(config.FileSource{Path: path}, args[0]); err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("command config exported", "from", path, "to", args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Merge a YAML command configuration into the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := commandsPath(cmd)
			if err != nil {
				return err
			}
			full, err := config.Import(args[0], path)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("command config imported",
				"from", args[0], "to", path,
				"commands", full.CommandConfig != nil, "layout", full.MemoryLayout != nil)
			return nil
		},
	})
	return cmd
}

func commandsPath(cmd *cobra.Command) (string, error) {
	flag, err := cmd.Flags().GetString("commands")
	if err != nil {
		return "", err
	}
	path, _, err := datasource.DiscoverCommands(flag)
	return path, err
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
