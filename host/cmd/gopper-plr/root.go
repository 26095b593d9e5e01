package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gopperplr/log"
	"gopperplr/recovery/store"
	"gopperplr/standalone"
	"gopperplr/standalone/config"
	"gopperplr/standalone/printer"
)

const (
	storeFile   = "file"
	storeEEPROM = "eeprom"

	eepromSize = 4096
)

type globalOptions struct {
	configPath  string
	media       string
	storeKind   string
	eepromImage string
	logLevel    string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "gopper-plr",
		Short:         "Standalone printer with power-loss recovery",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.storeKind {
			case storeFile, storeEEPROM:
			default:
				return fmt.Errorf("unknown --store %q (want %s or %s)", opts.storeKind, storeFile, storeEEPROM)
			}
			log.Configure(log.Config{
				Level:   opts.logLevel,
				Output:  zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339},
				Service: "gopper-plr",
			})
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "machine config (YAML); built-in cartesian config if empty")
	flags.StringVar(&opts.media, "media", ".", "media directory holding jobs and the recovery record")
	flags.StringVar(&opts.storeKind, "store", storeFile, "recovery record storage: file or eeprom")
	flags.StringVar(&opts.eepromImage, "eeprom-image", "", "EEPROM image file (default <media>/eeprom.bin)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newPrintCmd(opts),
		newResumeCmd(opts),
		newInspectCmd(opts),
		newPurgeCmd(opts),
		newReplayCmd(opts),
	)
	return root
}

func (o *globalOptions) loadConfig() (*standalone.MachineConfig, error) {
	if o.configPath == "" {
		return config.DefaultCartesianConfig(), nil
	}
	return config.LoadFile(o.configPath)
}

func (o *globalOptions) openStore() (store.Store, error) {
	if o.storeKind == storeEEPROM {
		image := o.eepromImage
		if image == "" {
			image = filepath.Join(o.media, "eeprom.bin")
		}
		bus, err := store.OpenMemoryBus(image, eepromSize)
		if err != nil {
			return nil, err
		}
		return store.NewEEPROMStore(bus, store.EEPROMConfig{Size: eepromSize}), nil
	}
	return store.NewFileStore(store.NewDir(o.media)), nil
}

func (o *globalOptions) newPrinter(out io.Writer) (*printer.Manager, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := o.openStore()
	if err != nil {
		return nil, err
	}
	m, err := printer.NewManager(cfg, printer.Options{
		MediaRoot: o.media,
		Store:     st,
		Output:    out,
	})
	if err != nil {
		return nil, err
	}
	m.Initialize()
	return m, nil
}

// withMetrics runs work, serving /metrics next to it when an address is set.
// The server stops once work returns.
func (o *globalOptions) withMetrics(ctx context.Context, work func(context.Context) error) error {
	if o.metricsAddr == "" {
		return work(ctx)
	}
	logger := log.WithComponent("metrics")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info().Str("addr", o.metricsAddr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		defer cancel()
		return work(gctx)
	})
	return g.Wait()
}
