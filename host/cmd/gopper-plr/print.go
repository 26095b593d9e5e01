package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gopperplr/log"
	"gopperplr/standalone/printer"
)

func newPrintCmd(opts *globalOptions) *cobra.Command {
	var powerLossAfter uint64

	cmd := &cobra.Command{
		Use:   "print FILE",
		Short: "Print a job from the media directory",
		Long: `Boots the simulated printer, resumes an interrupted job first if a valid
recovery record is found, then prints FILE. The power-loss line can be
tripped with SIGUSR1 or after a number of job lines.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := opts.newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return opts.withMetrics(ctx, func(ctx context.Context) error {
				stopSignal := notifyPowerLoss(m)
				defer stopSignal()

				if m.Boot() {
					fmt.Fprintln(cmd.OutOrStdout(), "interrupted job found, resuming it first")
					if err := drive(ctx, m, 0); err != nil {
						return err
					}
				}
				m.Enqueue("M23 " + args[0])
				m.Enqueue("M24")
				return drive(ctx, m, powerLossAfter)
			})
		},
	}
	cmd.Flags().Uint64Var(&powerLossAfter, "power-loss-after", 0, "trip the power-loss line after N job lines (0 = never)")
	return cmd
}

func newResumeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted job and print it to the end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := opts.newPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !m.Boot() {
				fmt.Fprintln(cmd.OutOrStdout(), "no interrupted job")
				return nil
			}
			return opts.withMetrics(ctx, func(ctx context.Context) error {
				stopSignal := notifyPowerLoss(m)
				defer stopSignal()
				return drive(ctx, m, 0)
			})
		},
	}
}

// drive steps the printer until it runs out of work. With powerLossAfter
// set, the power-loss line goes active once that many job lines have run.
func drive(ctx context.Context, m *printer.Manager, powerLossAfter uint64) error {
	logger := log.WithComponent("cli")
	for {
		if powerLossAfter > 0 && m.Lines() >= powerLossAfter {
			m.SignalPowerLoss(true)
		}
		ran, err := m.Step(ctx)
		switch {
		case errors.Is(err, printer.ErrHalted):
			return fmt.Errorf("print interrupted: %w", err)
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			logger.Error().Err(err).Msg("command failed")
		case !ran:
			if err := m.Recovery().LastWriteError(); err != nil {
				logger.Warn().Err(err).Msg("last snapshot write failed")
			}
			return nil
		}
	}
}
