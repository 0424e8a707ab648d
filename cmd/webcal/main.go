package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"webcal/internal/app"
	"webcal/internal/backend"
	"webcal/internal/config"
	"webcal/internal/drag"
	"webcal/internal/layout"
	appLog "webcal/internal/log"
	"webcal/internal/prefs"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		appLog.Error("command failed", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "webcal",
		Short:         "A browser calendar with drag-and-drop rescheduling.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to config file (default "+config.DefaultPath()+")")
	pf.String("listen", "", "HTTP listen address")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("timezone", "", "IANA time zone for dates")
	pf.String("backend", "", "calendar backend: ics or google")
	pf.String("state-dir", "", "directory for preferences, token and feed cache")
	pf.String("ics-path", "", "local calendar file for the ics backend")

	root.AddCommand(
		newServeCommand(),
		newSnapshotCommand(),
		newEventsCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newConfigCommand(),
	)
	return root
}

// runtime is the loaded configuration plus what every command opens from it.
type runtime struct {
	cfg     *config.Config
	cfgPath string
	loc     *time.Location
	store   *prefs.Store
}

func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyOverrides(config.NewViper(cmd.Flags()))
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, err := prefs.Open(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state dir: %w", err)
	}

	appLog.Debug("effective config",
		"path", path,
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"backend", cfg.Backend,
		"refresh", cfg.RefreshCron,
		"state_dir", cfg.StateDir,
		"subscriptions", len(cfg.ICS.Subscriptions),
	)
	return &runtime{cfg: cfg, cfgPath: path, loc: loc, store: store}, nil
}

func (rt *runtime) openBackend(ctx context.Context) (*backend.Setup, error) {
	return backend.Open(ctx, backend.Options{Config: rt.cfg, Store: rt.store, Location: rt.loc})
}

func (rt *runtime) newApp(setup *backend.Setup) *app.App {
	cfg := rt.cfg
	a := app.New(app.Options{
		Location: rt.loc,
		Grid: layout.Grid{
			DayStartHour: cfg.Grid.DayStartHour,
			DayEndHour:   cfg.Grid.DayEndHour,
			SlotMinutes:  cfg.Grid.SlotMinutes,
		},
		Drag: drag.Options{
			Threshold:       cfg.Drag.ThresholdPX,
			DefaultDuration: cfg.DefaultDuration(),
			CommitTimeout:   cfg.CommitTimeout(),
		},
		RefreshCron: cfg.RefreshCron,
	}, setup.Client, rt.store)
	if setup.SignIn != nil {
		setup.SignIn.OnClient(a.SetClient)
	}
	return a
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

var errSignedOut = errors.New("not signed in; run `webcal login` first")
