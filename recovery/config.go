package recovery

import "time"

// ZPolicy selects how Z is re-established on printers that home Z toward
// the bed.
type ZPolicy string

const (
	// ZTrust zeroes Z at the current nozzle height and trusts the stored
	// Z value. No physical Z homing, so the nozzle never drags across the
	// print.
	ZTrust ZPolicy = "trust"

	// ZRehome lifts, homes X/Y, then homes Z at ZHomePos. Requires a
	// homing point clear of the printed part.
	ZRehome ZPolicy = "rehome"
)

// Config is the recovery configuration surface
type Config struct {
	Enabled         bool
	SaveInterval    time.Duration // 0 disables the time trigger
	SaveEachCommand bool
	MinZChange      float64 // mm
	ZRaise          float64 // mm
	PurgeLength     float64 // mm
	RetractLength   float64 // mm
	PurgeFeedrate   float64 // mm/min
	RetractFeedrate float64 // mm/min
	BackupPower     bool
	ZHomeDir        int // -1 homes toward the bed, +1 away from it
	ZPolicy         ZPolicy
	ZHomePos        [2]float64
	ZMax            float64 // 0 disables the outage lift clamp
	OutageThreshold int     // consecutive active samples before the handler fires
}

// DefaultConfig returns the stock settings
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MinZChange:      0.05,
		ZRaise:          2,
		PurgeFeedrate:   200,
		RetractFeedrate: 3000,
		ZHomeDir:        -1,
		ZPolicy:         ZTrust,
		OutageThreshold: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PurgeFeedrate <= 0 {
		c.PurgeFeedrate = d.PurgeFeedrate
	}
	if c.RetractFeedrate <= 0 {
		c.RetractFeedrate = d.RetractFeedrate
	}
	if c.ZHomeDir == 0 {
		c.ZHomeDir = d.ZHomeDir
	}
	if c.ZPolicy == "" {
		c.ZPolicy = d.ZPolicy
	}
	if c.OutageThreshold <= 0 {
		c.OutageThreshold = d.OutageThreshold
	}
	return c
}
