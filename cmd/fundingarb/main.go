package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ybangaru/fundingarb/exchanges/binance"
	"github.com/ybangaru/fundingarb/exchanges/bybit"
	"github.com/ybangaru/fundingarb/exchanges/ftx"
	"github.com/ybangaru/fundingarb/exchanges/okex"
	"github.com/ybangaru/fundingarb/internal/collector"
	"github.com/ybangaru/fundingarb/internal/config"
	"github.com/ybangaru/fundingarb/internal/coordinator"
	"github.com/ybangaru/fundingarb/internal/exchange"
	"github.com/ybangaru/fundingarb/internal/notify"
	"github.com/ybangaru/fundingarb/internal/persistence/postgres"
	"github.com/ybangaru/fundingarb/internal/scheduler"
	"github.com/ybangaru/fundingarb/internal/secrets"
	"github.com/ybangaru/fundingarb/internal/spread"
	"github.com/ybangaru/fundingarb/internal/state"
	"github.com/ybangaru/fundingarb/internal/venue"
)

// redactingWriter scrubs venue HMAC secrets, the Postgres DSN, and SMTP
// credentials out of every log line before it reaches the console, so a
// copy-pasted log line never leaks a credential a config file supplied.
type redactingWriter struct {
	out      io.Writer
	redactor *secrets.Redactor
}

func (w redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.out.Write(w.redactor.RedactBytes(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

const (
	appName = "fundingarb"
	version = "v0.1.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	log.Logger = log.Output(redactingWriter{out: console, redactor: secrets.NewRedactor()})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Cross-venue perpetual-futures funding-rate arbitrage engine",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(entryOnceCmd())
	rootCmd.AddCommand(monitorOnceCmd())
	rootCmd.AddCommand(stateShowCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine's entry and monitor clocks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, adapters, store, notifier, err := bootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !cfg.Strategy.Deploy {
				log.Warn().Msg("deploy is false: this flag does not gate order placement, live orders are still sent")
			}

			sched := scheduler.New(adapters, store, notifier, cfg.Strategy.AccountValueFraction)
			log.Info().Msg("engine started")
			sched.Run(ctx)
			log.Info().Msg("engine stopped")
			return nil
		},
	}
}

func entryOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entry-once",
		Short: "Run a single entry cycle immediately and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, adapters, store, notifier, err := bootstrap()
			if err != nil {
				return err
			}

			ctx := context.Background()
			balances := map[venue.Venue]float64{}
			for v, a := range adapters {
				bal, err := a.GetBalance(ctx)
				if err != nil {
					log.Warn().Str("venue", v.String()).Err(err).Msg("balance fetch failed")
					continue
				}
				balances[v] = bal.Available
			}

			adapterList := make([]exchange.Adapter, 0, len(adapters))
			for _, a := range adapters {
				adapterList = append(adapterList, a)
			}
			coll := collector.New(adapterList, 10*time.Second)
			rates := coll.Collect(ctx)
			byAsset := collector.ByAsset(rates)
			ranked := spread.CalculateAll(byAsset)
			if len(ranked) == 0 {
				fmt.Println("no tradable spreads observed")
				return nil
			}

			best := ranked[0]
			fmt.Printf("best spread: %s buy=%s sell=%s net_half=%.4f\n", best.Asset, best.BuyVenue, best.SellVenue, best.NetHalf)
			if !spread.MeetsThreshold(best) {
				fmt.Println("does not clear entry threshold")
				return nil
			}

			trade, err := spread.BuildTrade(ctx, best, balances, spread.Adapters(adapters), cfg.Strategy.AccountValueFraction)
			if err != nil {
				return fmt.Errorf("build trade: %w", err)
			}
			if err := trade.Validate(); err != nil {
				return fmt.Errorf("invalid trade: %w", err)
			}
			if err := store.SaveTrade(trade); err != nil {
				return fmt.Errorf("save trade: %w", err)
			}

			coord := coordinator.New(adapters, notifier)
			return coord.Run(ctx, trade, false)
		},
	}
}

func monitorOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor-once",
		Short: "Refresh and print the currently owned position without evaluating a close",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, adapters, store, notifier, err := bootstrap()
			if err != nil {
				return err
			}

			trade, owned, err := store.LoadTrade()
			if err != nil {
				return fmt.Errorf("load trade: %w", err)
			}
			if !owned {
				fmt.Println("no position currently owned")
				return nil
			}

			coord := coordinator.New(adapters, notifier)
			if err := coord.RefreshAvgPrices(context.Background(), trade); err != nil {
				log.Warn().Err(err).Msg("failed to refresh average entry prices")
			}
			fmt.Printf("owned position: %s long=%s short=%s\n", trade.Long.Asset, trade.Long.Venue, trade.Short.Venue)
			return nil
		},
	}
}

func stateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the currently persisted resume token, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := state.New(".")
			trade, owned, err := store.LoadTrade()
			if err != nil {
				return err
			}
			if !owned {
				fmt.Println("no position owned")
				return nil
			}
			fmt.Printf("%+v\n", trade)
			return nil
		},
	}
}

func bootstrap() (config.Config, map[venue.Venue]exchange.Adapter, *state.Store, notify.Notifier, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	store := state.New(".")

	var notifier notify.Notifier
	if cfg.Mail.Enabled {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			To:       cfg.Mail.To,
			Enabled:  cfg.Mail.Enabled,
		})
	} else {
		notifier = notify.NoopNotifier{}
	}

	if cfg.Postgres.Enabled {
		mgr, err := postgres.NewManager(cfg.Postgres.ToPostgresConfig())
		if err != nil {
			log.Warn().Err(err).Msg("postgres audit trail unavailable, continuing without it")
		} else {
			log.Info().Bool("enabled", mgr.IsEnabled()).Msg("postgres audit trail wired")
		}
	}

	return cfg, adapters, store, notifier, nil
}

func buildAdapters(cfg config.Config) (map[venue.Venue]exchange.Adapter, error) {
	out := make(map[venue.Venue]exchange.Adapter, 4)

	creds := func(name string) exchange.Credentials {
		v := cfg.Venues[name]
		return exchange.Credentials{APIKey: v.APIKey, APISecret: v.APISecret, Passphrase: v.Passphrase}
	}

	if v, ok := cfg.Venues["binance"]; ok && v.APIKey != "" {
		out[venue.Binance] = binance.New(creds("binance"))
	}
	if v, ok := cfg.Venues["bybit"]; ok && v.APIKey != "" {
		out[venue.Bybit] = bybit.New(creds("bybit"))
	}
	if v, ok := cfg.Venues["okex"]; ok && v.APIKey != "" {
		out[venue.Okex] = okex.New(creds("okex"))
	}
	if v, ok := cfg.Venues["ftx"]; ok && v.APIKey != "" {
		out[venue.FTX] = ftx.New(creds("ftx"))
	}

	if len(out) < 2 {
		return nil, fmt.Errorf("at least 2 venues must be configured with credentials, found %d", len(out))
	}
	return out, nil
}
