package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"notesync/config"
	"notesync/internal/connectivity"
	"notesync/internal/control"
	"notesync/internal/syncer"
	"notesync/pkg/logger"
	"notesync/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List changes waiting to be sent to the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, err := newNoteService(nil).Pending(cmd.Context(), "")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ops) == 0 {
			fmt.Fprintln(out, "Nothing queued.")
			return nil
		}
		for _, op := range ops {
			target := "-"
			if op.ServerID != nil {
				target = fmt.Sprint(*op.ServerID)
			}
			fmt.Fprintf(out, "#%-5d %-7s %s  server=%s  at %s\n",
				op.ID, op.Type, shortID(op.ClientID), target, formatMillis(op.Timestamp))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is reachable and how much is queued",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pending, err := local.CountOperations(ctx)
		if err != nil {
			return err
		}
		state := "online"
		if err := newRemote(cfg).Health(ctx); err != nil {
			logger.Sugar.Debugw("Health check failed", "error", err)
			state = "offline"
		}

		daemon := "not running"
		st, err := control.NewClient(control.SocketPath(cfg.DBPath)).Status(ctx)
		switch {
		case err == nil:
			daemon = "running, offline"
			if st.Online {
				daemon = "running, online"
			}
			if st.Manual {
				daemon += ", manual"
			}
		case !errors.Is(err, control.ErrNoDaemon):
			logger.Sugar.Debugw("Daemon status failed", "error", err)
			daemon = "not answering"
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "server:  %s (%s)\n", cfg.ServerURL, state)
		fmt.Fprintf(out, "device:  %s\n", cfg.DeviceID)
		fmt.Fprintf(out, "daemon:  %s\n", daemon)
		fmt.Fprintf(out, "queued:  %d\n", pending)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send queued changes to the server once",
	Long: `sync sends queued changes to the server. When a daemon is running for
this database the request is handed to it; otherwise the pass runs here.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		err := control.NewClient(control.SocketPath(cfg.DBPath)).RequestSync(ctx)
		if err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "sync requested from the running daemon")
			return nil
		}
		if !errors.Is(err, control.ErrNoDaemon) {
			return err
		}

		client := newRemote(cfg)
		engine := newEngine(local, cfg, client)

		// One health check decides connectivity for this run.
		engine.SetOnline(client.Health(ctx) == nil)

		// A failed pass leaves its work queued, so it is reported rather than returned.
		rep, err := engine.Run(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), rep.String())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "last error: %v\n", err)
		}
		return nil
	},
}

var manualConnectivity bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Stay connected and sync changes as they happen",
	Long: `daemon keeps a websocket open to the server. While it is connected,
queued changes are sent shortly after each edit, on a fixed interval and
whenever the connection comes back.

With --manual the server connection is not watched; the daemon starts
offline and is switched with "notes online" and "notes offline".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runDaemon(ctx, cfg, local, manualConnectivity)
	},
}

func setOnlineCmd(online bool) *cobra.Command {
	use, short := "offline", "Tell a --manual daemon to stop syncing"
	if online {
		use, short = "online", "Tell a --manual daemon it may sync"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return control.NewClient(control.SocketPath(cfg.DBPath)).SetOnline(cmd.Context(), online)
		},
	}
}

func runDaemon(ctx context.Context, cfg config.Client, st *store.Store, manual bool) error {
	log := logger.Sugar

	var (
		events  <-chan connectivity.Event
		monitor *connectivity.Monitor
		sw      *connectivity.Switch
	)
	if manual {
		sw = connectivity.NewSwitch(false)
		events = sw.Events()
	} else {
		var err error
		monitor, err = connectivity.NewMonitor(cfg.ServerURL,
			connectivity.WithDeviceID(cfg.DeviceID),
			connectivity.WithMonitorLogger(log.Named("monitor")),
			connectivity.WithMessageHandler(func(m connectivity.Message) {
				log.Infow("Server event", "type", m.Type, "server_id", m.ServerID, "from", m.DeviceID)
			}),
		)
		if err != nil {
			return err
		}
		events = monitor.Events()
	}

	engine := newEngine(st, cfg, newRemote(cfg),
		syncer.WithOnline(false),
		syncer.WithReportHook(func(r syncer.Report) {
			log.Infow("Sync finished", "outcome", r.Outcome, "applied", r.Applied,
				"skipped", r.Skipped, "remaining", r.Remaining, "took", r.Finished.Sub(r.Started))
		}),
	)
	sched := syncer.NewScheduler(engine, events, syncer.Config{
		Debounce: cfg.Debounce,
		Interval: cfg.Interval,
	}, log.Named("scheduler"))

	// Edits made by other notes commands land in the same file.
	watcher, err := st.Watch(ctx)
	if err != nil {
		return err
	}
	ctl, err := control.Listen(control.SocketPath(cfg.DBPath), sched, engine, sw, log.Named("control"))
	if err != nil {
		_ = watcher.Close()
		return err
	}

	log.Infow("Daemon started", "server", cfg.ServerURL, "device", cfg.DeviceID, "db", cfg.DBPath, "manual", manual)

	g, gctx := errgroup.WithContext(ctx)
	if monitor != nil {
		g.Go(func() error { return monitor.Run(gctx) })
	}
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})
	g.Go(func() error { return watcher.Run(gctx, sched.Nudge) })
	g.Go(func() error { return ctl.Serve(gctx) })

	err = g.Wait()
	log.Infow("Daemon stopped", "pending", pendingCount(st))
	return err
}

func pendingCount(st *store.Store) int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, _ := st.CountOperations(ctx)
	return n
}

func init() {
	daemonCmd.Flags().BoolVar(&manualConnectivity, "manual", false, "Go online and offline only when told to")

	rootCmd.AddCommand(queueCmd, statusCmd, syncCmd, daemonCmd, setOnlineCmd(true), setOnlineCmd(false))
}
