//go:build !unix

package main

import "gopperplr/standalone/printer"

func notifyPowerLoss(*printer.Manager) func() { return func() {} }
