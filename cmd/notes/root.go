package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"notesync/config"
	"notesync/internal/notebook"
	"notesync/internal/remote"
	"notesync/internal/syncer"
	"notesync/pkg/logger"
	"notesync/store"
)

var (
	v       = viper.New()
	verbose bool

	cfg   config.Client
	local *store.Store
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "notes",
	Short: "Offline-first notes that sync when you are online",
	Long: `notes keeps your notes in a local database that works without a network.
Every change is queued and sent to the notesd server, in order, once the
server is reachable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadClient(v)
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		// Interactive commands stay quiet unless asked; the daemon always logs.
		if verbose || cfg.LogFile != "" || cmd == daemonCmd {
			logger.Init(logger.Options{Level: level, File: cfg.LogFile})
		}

		local, err = store.Open(cfg.DBPath,
			store.WithUnsyncedDeletePolicy(cfg.DeletePolicy),
			store.WithLogger(logger.Sugar.Named("store")),
		)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		logger.Sync()
		if local == nil {
			return nil
		}
		return local.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	config.SetClientDefaults(v)

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.String(config.KeyDB, "", "Path of the local notes database")
	flags.String(config.KeyServer, "", "Base URL of the notesd server")
	flags.String(config.KeyDevice, "", "Name this device reports to the server")
	flags.Duration(config.KeyTimeout, 0, "Deadline for each server call")
	flags.String(config.KeyUnsyncedDelete, "", "What deleting a never-synced note does to its queued changes: cancel, keep or enqueue")
	flags.Int(config.KeyPartitions, 0, "Sync up to N notes in parallel (0 keeps one ordered queue)")
	flags.String(config.KeyLogFile, "", "Write logs to this file, rotated by size")

	for _, key := range []string{
		config.KeyDB, config.KeyServer, config.KeyDevice, config.KeyTimeout,
		config.KeyUnsyncedDelete, config.KeyPartitions, config.KeyLogFile,
	} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}
}

func newNoteService(nudger notebook.Nudger) *notebook.NoteService {
	return notebook.NewNoteService(local, nudger, notebook.WithLogger(logger.Sugar.Named("notebook")))
}

func newRemote(cfg config.Client) *remote.Client {
	return remote.New(cfg.ServerURL,
		remote.WithTimeout(cfg.Timeout),
		remote.WithDeviceID(cfg.DeviceID),
		remote.WithLogger(logger.Sugar.Named("remote")),
	)
}

func newEngine(st *store.Store, cfg config.Client, client *remote.Client, opts ...syncer.Option) *syncer.Engine {
	opts = append([]syncer.Option{
		syncer.WithLogger(logger.Sugar.Named("sync")),
		syncer.WithPartitioning(cfg.Partitions),
		syncer.WithCallTimeout(cfg.Timeout),
	}, opts...)
	return syncer.New(st, client, opts...)
}

// resolveID expands a unique prefix of a note's client id.
func resolveID(ctx context.Context, prefix string) (string, error) {
	if _, err := local.GetNote(ctx, prefix); err == nil {
		return prefix, nil
	}
	notes, err := local.ListNotes(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, n := range notes {
		if strings.HasPrefix(n.ClientID, prefix) {
			matches = append(matches, n.ClientID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("note %s: %w", prefix, store.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("note id %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
