// Command gopper-plr runs the simulated standalone printer with power-loss
// recovery, and inspects or replays the stored recovery record.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
