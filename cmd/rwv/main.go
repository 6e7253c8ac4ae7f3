// rwv is a terminal timeline viewer for RAM2 memory-command traces.
//
// It streams the trace in batches, keeps decimated levels of detail and
// redraws the visible window every frame while loading continues.
//
// Usage:
//
//	rwv view trace.ram2                 # Stream and browse a trace
//	rwv view --from 1e6 --to 2e6 t.ram2 # Stream only a clock range
//	rwv info --json trace.ram2          # Print trace metadata and exit
//	rwv gen --events 1000000 out.ram2   # Write a synthetic trace
//	rwv config export colors.yaml       # Export the command configuration
//	rwv config import colors.yaml       # Import a command configuration
//	rwv version                         # Print version and exit
package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("rwv command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rwv",
		Short:         "Streaming timeline viewer for RAM2 memory traces",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", "", "viewer config file (default $RAMWIZ_CONFIG or user config dir)")
	root.PersistentFlags().String("commands", "", "command config file (default $RAMWIZ_COMMANDS or .ramwiz/commands.yaml)")

	root.AddCommand(newViewCmd())
	root.AddCommand(newInfoCmd())
	root.AddCommand(newGenCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}
