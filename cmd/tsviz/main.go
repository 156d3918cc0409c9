package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vjranagit/tsviz/internal/app"
	"github.com/vjranagit/tsviz/internal/config"
	"github.com/vjranagit/tsviz/internal/logging"
	"github.com/vjranagit/tsviz/pkg/api"
	"github.com/vjranagit/tsviz/pkg/types"
)

const (
	version = "0.3.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tsviz",
		Short:         "Align and chart time series from uploaded JSON files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults come from the environment)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newImportCmd(&configPath))
	root.AddCommand(newListCmd(&configPath))
	root.AddCommand(newRenameCmd(&configPath))
	root.AddCommand(newRecolorCmd(&configPath))
	root.AddCommand(newDeleteCmd(&configPath))
	root.AddCommand(newChartCmd(&configPath))
	return root
}

func loadApp(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	return app.New(ctx, cfg, logger)
}

// withApp opens the app for one command and closes it afterwards
func withApp(configPath string, fn func(context.Context, *app.App) error) error {
	ctx := context.Background()
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		return err
	}
	if err := a.PersistenceError(); errors.Is(err, types.ErrPersistenceQuotaExceeded) {
		_, _ = fmt.Fprintf(os.Stderr, "warning: changes kept for this run only: %v\n", err)
	} else if err != nil {
		return err
	}
	return nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := loadApp(context.Background(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.Config
			a.Logger.Info("configuration loaded",
				"version", version,
				"listen_addr", cfg.Server.ListenAddr,
				"storage_path", cfg.Storage.Path,
				"in_memory", cfg.Storage.InMemory,
				"compression_level", cfg.Storage.CompressionLevel,
				"persist_ceiling", humanize.Bytes(uint64(a.Gateway.Ceiling())),
				"series", a.Store.Len())

			server := api.NewServer(cfg.Server.ListenAddr, a)

			errCh := make(chan error, 1)
			go func() {
				a.Logger.Info("API server listening", "addr", cfg.Server.ListenAddr)
				errCh <- server.Start()
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigChan:
			}

			a.Logger.Info("shutdown signal received, stopping server")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := server.Stop(ctx); err != nil {
				a.Logger.Error("server shutdown error", "error", err)
			}
			if err := a.Save(ctx); err != nil {
				a.Logger.Error("final save failed", "error", err)
			}

			a.Logger.Info("server stopped")
			return nil
		},
	}
}

func newImportCmd(configPath *string) *cobra.Command {
	var sel types.Selection
	var name, color string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON file as one or more series",
		Long: "Import a JSON file as one or more series. Without --data-key every key\n" +
			"other than " + types.TimestampField + " becomes its own series.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveSelection(&sel, cmd.Flags().Changed("timestamp-key")); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			return withApp(*configPath, func(_ context.Context, a *app.App) error {
				series, err := a.Uploader.Import(filepath.Base(args[0]), data, sel)
				if err != nil {
					return err
				}

				for _, sr := range series {
					if name != "" {
						label := name
						if len(series) > 1 {
							label = name + " - " + sr.DataKey
						}
						if err := a.Store.Rename(sr.ID, label); err != nil {
							return err
						}
					}
					if color != "" {
						if err := a.Store.Recolor(sr.ID, color); err != nil {
							return err
						}
					}
				}

				for _, sr := range series {
					stored := "persisted"
					if !sr.Persisted {
						stored = "session only"
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%d records, %s)\n", sr.ID, len(sr.Records), stored)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sel.TimestampKey, "timestamp-key", types.TimestampField, "key holding the record timestamp")
	cmd.Flags().StringSliceVar(&sel.DataKeys, "data-key", nil, "key holding a series value (repeatable)")
	cmd.Flags().StringVar(&sel.Timezone, "timezone", "", "IANA zone for timestamps without an offset (default UTC)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&color, "color", "", "display color as #rrggbb")
	return cmd
}

// resolveSelection switches to auto mode when no data key is given. Auto
// mode always reads types.TimestampField, so an explicit timestamp key
// without data keys is rejected.
func resolveSelection(sel *types.Selection, timestampKeySet bool) error {
	if len(sel.DataKeys) > 0 {
		sel.Auto = false
		return nil
	}
	if timestampKeySet {
		return fmt.Errorf("%w: --timestamp-key needs at least one --data-key", types.ErrNoKeysSelected)
	}
	sel.Auto = true
	return nil
}

func newListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored series",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, func(_ context.Context, a *app.App) error {
				list := a.Store.List()
				if len(list) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no series")
					return nil
				}
				return writeSeriesTable(cmd.OutOrStdout(), list)
			})
		},
	}
}

func writeSeriesTable(out io.Writer, list []types.Series) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tCOLOR\tKEYS\tRECORDS\tSTORED")
	for _, sr := range list {
		stored := "yes"
		if !sr.Persisted {
			stored = "re-upload"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%d\t%s\n",
			sr.ID, sr.Name, sr.Color, sr.TimestampKey, sr.DataKey, len(sr.Records), stored)
	}
	return tw.Flush()
}

func newRenameCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a series",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(*configPath, func(_ context.Context, a *app.App) error {
				return a.Store.Rename(args[0], args[1])
			})
		},
	}
}

func newRecolorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recolor <id> <#rrggbb>",
		Short: "Change the color of a series",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(*configPath, func(_ context.Context, a *app.App) error {
				return a.Store.Recolor(args[0], args[1])
			})
		},
	}
}

func newDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(*configPath, func(_ context.Context, a *app.App) error {
				if _, ok := a.Store.Get(args[0]); !ok {
					return fmt.Errorf("%w: %s", types.ErrSeriesNotFound, args[0])
				}
				a.Store.Remove(args[0])
				return nil
			})
		},
	}
}

func newChartCmd(configPath *string) *cobra.Command {
	var start, end string
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Print the aligned chart data as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := parseBound(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := parseBound(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			return withApp(*configPath, func(_ context.Context, a *app.App) error {
				a.View.SetTick(tick)
				a.View.SetRange(from, to)

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.View.Current())
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "range start, RFC 3339 (default first label)")
	cmd.Flags().StringVar(&end, "end", "", "range end, RFC 3339 (default last label)")
	cmd.Flags().DurationVar(&tick, "tick", 0, "axis caption interval, e.g. 15m")
	return cmd
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
