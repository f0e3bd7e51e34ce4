package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"uptrend-engine/config"
	"uptrend-engine/internal/logger"
	"uptrend-engine/internal/model"
	"uptrend-engine/internal/regengine"
	"uptrend-engine/internal/regime"
	"uptrend-engine/internal/replay"
	sqlitestore "uptrend-engine/internal/store/sqlite"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(ctx context.Context) *cobra.Command {
	infra := config.Load()
	root := &cobra.Command{
		Use:          "regengine",
		Short:        "Uptrend regime engine",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init("regengine", infra.LogLevel, infra.LogFormat)
		},
	}
	root.PersistentFlags().StringVar(&infra.SQLitePath, "db", infra.SQLitePath, "SQLite database path")
	root.PersistentFlags().StringVar(&infra.RedisAddr, "redis", infra.RedisAddr, "Redis address")

	root.AddCommand(serveCmd(ctx, infra))
	root.AddCommand(onceCmd(ctx, infra))
	root.AddCommand(evalCmd(ctx, infra))
	root.AddCommand(importCmd(ctx, infra))
	root.AddCommand(levelsCmd(ctx, infra))
	root.AddCommand(trackCmd(ctx, infra))
	root.AddCommand(replayCmd(ctx, infra))
	return root
}

func serveCmd(ctx context.Context, infra *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled sweeps, the HTTP API and the WebSocket stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := regengine.LoadConfig()
			svc, err := regengine.New(ctx, cfg, infra)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer svc.Close()
			return svc.Run(ctx)
		},
	}
}

func onceCmd(ctx context.Context, infra *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run one sweep and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := regengine.New(ctx, regengine.LoadConfig(), infra)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer svc.Close()
			report, err := svc.RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func evalCmd(ctx context.Context, infra *config.Config) *cobra.Command {
	var p model.Position
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate one position without persisting and print the payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := regengine.New(ctx, regengine.LoadConfig(), infra)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer svc.Close()
			ev, err := svc.Evaluate(ctx, p.Exchange, p.Token, p.TF)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				Payload any `json:"payload"`
				Meta    any `json:"meta"`
			}{ev.Result.Payload, ev.Result.Meta})
		},
	}
	positionFlags(cmd, &p)
	return cmd
}

func importCmd(ctx context.Context, infra *config.Config) *cobra.Command {
	var p model.Position
	var file string
	var sourceTF int
	var offset int64
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import closed bars from a CSV file (ts,open,high,low,close,volume)",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWriter(infra)
			if err != nil {
				return err
			}
			defer w.Close()
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := regengine.ImportBarsCSV(ctx, f, w, regengine.ImportSpec{
				Exchange:     p.Exchange,
				Token:        p.Token,
				TF:           p.TF,
				SourceTF:     sourceTF,
				BucketOffset: offset,
			})
			log.Info().Int("bars", n).Str("file", file).Str("key", p.RegimeKey()).Msg("import finished")
			return err
		},
	}
	positionFlags(cmd, &p)
	cmd.Flags().StringVar(&file, "file", "", "CSV file")
	cmd.Flags().IntVar(&sourceTF, "source-tf", 0, "timeframe of the CSV rows in seconds when finer than --tf")
	cmd.Flags().Int64Var(&offset, "bucket-offset", 45*60, "resampled bucket start, seconds past each --tf boundary (UTC)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func levelsCmd(ctx context.Context, infra *config.Config) *cobra.Command {
	var exchange, token, file string
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Replace the S/R levels of an instrument from a CSV file (price,strength)",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWriter(infra)
			if err != nil {
				return err
			}
			defer w.Close()
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			levels, err := regengine.ReadLevelsCSV(f, exchange, token)
			if err != nil {
				return err
			}
			if err := w.ReplaceLevels(ctx, exchange, token, levels); err != nil {
				return err
			}
			log.Info().Int("levels", len(levels)).Str("exchange", exchange).Str("token", token).Msg("levels replaced")
			return nil
		},
	}
	cmd.Flags().StringVar(&exchange, "exchange", "NSE", "exchange")
	cmd.Flags().StringVar(&token, "token", "", "instrument token")
	cmd.Flags().StringVar(&file, "file", "", "CSV file")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("file")
	return cmd
}

func trackCmd(ctx context.Context, infra *config.Config) *cobra.Command {
	var p model.Position
	var untrack bool
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Add a position to the sweep (or deactivate it with --off)",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWriter(infra)
			if err != nil {
				return err
			}
			defer w.Close()
			p.Active = !untrack
			if err := w.UpsertPosition(ctx, p); err != nil {
				return err
			}
			log.Info().Str("key", p.RegimeKey()).Bool("active", p.Active).Msg("position updated")
			return nil
		},
	}
	positionFlags(cmd, &p)
	cmd.Flags().StringVar(&p.TradingSymbol, "symbol", "", "trading symbol")
	cmd.Flags().BoolVar(&untrack, "off", false, "deactivate the position")
	return cmd
}

func replayCmd(ctx context.Context, infra *config.Config) *cobra.Command {
	var p model.Position
	var from int64
	var verbose bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored bars through the engine and print the regime timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := regengine.LoadConfig()
			params, err := regengine.LoadThresholds(cfg.ThresholdsPath)
			if err != nil {
				return err
			}
			reader, err := sqlitestore.NewReader(infra.SQLitePath)
			if err != nil {
				return err
			}
			defer reader.Close()

			r := replay.New(reader, regime.NewEngine(params), replay.Config{
				Window:     cfg.SnapshotBars,
				Warmup:     cfg.WarmupBars,
				MaxHistory: cfg.MaxHistoryBars,
			})
			var emit func(replay.Step)
			if verbose {
				emit = func(s replay.Step) {
					log.Debug().Time("ts", s.TS).Str("state", s.State.String()).Strs("flags", s.Flags).Msg("replayed bar")
				}
			}
			sum, err := r.Run(ctx, p, from, emit)
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
	positionFlags(cmd, &p)
	cmd.Flags().Int64Var(&from, "from", 0, "first replayed bar, unix seconds (earlier bars only warm up)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log every replayed bar at debug level")
	return cmd
}

func positionFlags(cmd *cobra.Command, p *model.Position) {
	cmd.Flags().StringVar(&p.Exchange, "exchange", "NSE", "exchange")
	cmd.Flags().StringVar(&p.Token, "token", "", "instrument token")
	cmd.Flags().IntVar(&p.TF, "tf", 3600, "timeframe in seconds")
	cmd.MarkFlagRequired("token")
}

func openWriter(infra *config.Config) (*sqlitestore.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(infra.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	return sqlitestore.New(sqlitestore.WriterConfig{DBPath: infra.SQLitePath})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
