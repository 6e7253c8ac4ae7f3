package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"github.com/daviddao/ramwiz_viewer/internal/config"
	"github.com/daviddao/ramwiz_viewer/internal/datasource"
	"github.com/daviddao/ramwiz_viewer/internal/statsapi"
)

// viewOptions are the view flags that are not part of the config file.
type viewOptions struct {
	// From and To bound the streamed range in clocks since the first entry.
	From, To float64
	Verbose  bool
}

func newViewCmd() *cobra.Command {
	var opts viewOptions
	d := config.Default()
	cmd := &cobra.Command{
		Use:   "view [trace]",
		Short: "Stream a trace into the interactive timeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := config.Load(cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			tracePath := firstArg(args)
			if tracePath == "" {
				tracePath = cfg.Trace
			}
			tracePath, err = datasource.DiscoverTrace(tracePath)
			if err != nil {
				return err
			}
			commands, found, err := datasource.DiscoverCommands(cfg.Commands)
			if err != nil {
				return err
			}

			// The terminal belongs to the TUI; logs go to a file.
			logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer logFile.Close()
			level := pslog.InfoLevel
			if opts.Verbose {
				level = pslog.DebugLevel
			}
			logger := pslog.NewWithOptions(logFile, pslog.Options{
				Mode:     pslog.ModeStructured,
				NoColor:  true,
				MinLevel: level,
			})
			ctx := pslog.ContextWithLogger(cmd.Context(), logger)
			log.SetOutput(pslog.LogLogger(logger).Writer())

			logger.Info("viewer starting", "trace", tracePath, "commands", commands, "commands_found", found, "version", Version)
			return runViewer(ctx, cfg, tracePath, commands, opts)
		},
	}
	f := cmd.Flags()
	f.String("schema", d.Schema, "wire schema (compact|wide)")
	f.String("log-file", d.LogFile, "log file")
	f.Int("batch-size", d.Loader.BatchSize, "entries per streamed batch")
	f.Float64("threshold", d.LOD.Threshold, "events per pixel a level may draw")
	f.Int("fps", d.Render.FPS, "frames per second")
	f.Bool("grid", d.Render.Grid, "draw lane separators")
	f.String("stats-addr", d.Stats.Addr, "serve frame stats over HTTP on this address")
	f.Float64Var(&opts.From, "from", 0, "first clock to stream, relative to the first entry")
	f.Float64Var(&opts.To, "to", 0, "last clock to stream, relative to the first entry (0 = end)")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "log every batch")
	return cmd
}

func runViewer(ctx context.Context, cfg config.Config, tracePath, commandsPath string, opts viewOptions) error {
	logger := pslog.Ctx(ctx)
	m, err := newModel(ctx, cfg, tracePath, config.FileSource{Path: commandsPath}, opts)
	if err != nil {
		return err
	}
	defer m.close()

	if cfg.Stats.Addr != "" {
		srv, err := statsapi.Start(ctx, cfg.Stats.Addr, m.pub)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.With("err", err).Warn("stats server shutdown")
			}
		}()
	}

	var w *datasource.Watcher
	if _, err := os.Stat(filepath.Dir(commandsPath)); err == nil {
		w, err = datasource.NewWatcher(commandsPath)
		if err != nil {
			logger.With("err", err).Warn("command config not watched", "path", commandsPath)
		} else {
			defer w.Close()
		}
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	// Feed config change events into the TUI.
	if w != nil {
		go func() {
			for range w.Changes() {
				p.Send(configChangedMsg{})
			}
		}()
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run timeline: %w", err)
	}
	logger.Info("viewer stopped")
	return nil
}
