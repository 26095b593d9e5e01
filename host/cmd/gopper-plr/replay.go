package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gopperplr/host/serial"
	"gopperplr/log"
	"gopperplr/recovery"
	"gopperplr/standalone/printer"
)

func newReplayCmd(opts *globalOptions) *cobra.Command {
	var (
		device  string
		baud    int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Send the resume sequence of the stored record to a printer over serial",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			snap, err := loadRecord(st)
			if err != nil {
				return err
			}

			portCfg := serial.DefaultConfig(device)
			if baud > 0 {
				portCfg.Baud = baud
			}
			sink, port, err := serial.OpenSink(portCfg)
			if err != nil {
				return err
			}
			defer port.Close()
			sink.SetTimeout(timeout)
			return opts.withMetrics(ctx, func(ctx context.Context) error {
				err := recovery.Replay(ctx, snap, printer.RecoveryConfig(cfg), sink, log.WithComponent("replay"))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resumed %s at offset %d\n", snap.SourcePath, snap.Offset)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "/dev/ttyUSB0", "printer serial device")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate (default 115200)")
	cmd.Flags().DurationVar(&timeout, "reply-timeout", serial.DefaultReplyTimeout, "give up when the printer is silent this long")
	return cmd
}
