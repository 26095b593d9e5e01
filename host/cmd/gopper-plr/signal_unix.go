//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"gopperplr/standalone/printer"
)

// notifyPowerLoss trips the power-loss line on SIGUSR1
func notifyPowerLoss(m *printer.Manager) func() {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-ch:
				m.SignalPowerLoss(true)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
