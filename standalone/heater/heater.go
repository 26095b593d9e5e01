// Package heater simulates the printer's heaters: each one moves linearly
// toward its target (or ambient when off) at a configured rate.
package heater

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gopperplr/standalone"
)

// Tolerance is how close a heater must be to count as at target
const Tolerance = 1.0

const (
	Bed     = "bed"
	Chamber = "chamber"
)

var (
	ErrUnknownHeater = errors.New("heater: unknown heater")
	ErrTargetRange   = errors.New("heater: target out of range")
)

// Hotend returns the heater name for extruder i
func Hotend(i int) string {
	return "extruder" + strconv.Itoa(i)
}

// Heater is one simulated heater
type Heater struct {
	name   string
	config standalone.HeaterConfig
	target float64
	temp   float64
}

func (h *Heater) tick(dt time.Duration) {
	goal := h.target
	if goal == 0 {
		goal = h.config.Ambient
	}
	if h.config.HeatRate <= 0 {
		h.temp = goal
		return
	}
	step := h.config.HeatRate * dt.Seconds()
	if math.Abs(goal-h.temp) <= step {
		h.temp = goal
	} else if goal > h.temp {
		h.temp += step
	} else {
		h.temp -= step
	}
}

// Bank holds every heater of the machine
type Bank struct {
	heaters map[string]*Heater
}

// NewBank creates hotend heaters for each extruder plus the bed, and a
// chamber heater if one is configured. A hotend without its own entry uses
// the "extruder" entry.
func NewBank(config *standalone.MachineConfig) *Bank {
	b := &Bank{heaters: make(map[string]*Heater)}
	add := func(name string, cfg standalone.HeaterConfig) {
		b.heaters[name] = &Heater{name: name, config: cfg, temp: cfg.Ambient}
	}

	extruders := config.Extruders
	if extruders < 1 {
		extruders = 1
	}
	for i := 0; i < extruders; i++ {
		cfg, ok := config.Heaters[Hotend(i)]
		if !ok {
			cfg = config.Heaters["extruder"]
		}
		add(Hotend(i), cfg)
	}
	add(Bed, config.Heaters[Bed])
	if cfg, ok := config.Heaters[Chamber]; ok {
		add(Chamber, cfg)
	}
	return b
}

func (b *Bank) get(name string) (*Heater, error) {
	h, ok := b.heaters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHeater, name)
	}
	return h, nil
}

// Names returns the heater names in sorted order
func (b *Bank) Names() []string {
	names := make([]string, 0, len(b.heaters))
	for name := range b.heaters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the named heater exists
func (b *Bank) Has(name string) bool {
	_, ok := b.heaters[name]
	return ok
}

// SetTarget sets a heater target. Zero turns the heater off.
func (b *Bank) SetTarget(name string, target float64) error {
	h, err := b.get(name)
	if err != nil {
		return err
	}
	if target != 0 && (target < h.config.MinTemp || (h.config.MaxTemp > 0 && target > h.config.MaxTemp)) {
		return fmt.Errorf("%w: %s %.1f not in [%.1f, %.1f]", ErrTargetRange, name, target, h.config.MinTemp, h.config.MaxTemp)
	}
	h.target = target
	return nil
}

// Target returns a heater target, 0 for unknown heaters
func (b *Bank) Target(name string) float64 {
	if h, ok := b.heaters[name]; ok {
		return h.target
	}
	return 0
}

// Temperature returns the current temperature, 0 for unknown heaters
func (b *Bank) Temperature(name string) float64 {
	if h, ok := b.heaters[name]; ok {
		return h.temp
	}
	return 0
}

// Reached reports whether a heater is within Tolerance of its target. An
// off heater has always reached its target.
func (b *Bank) Reached(name string) bool {
	h, ok := b.heaters[name]
	if !ok || h.target == 0 {
		return true
	}
	return math.Abs(h.temp-h.target) <= Tolerance
}

// Tick advances every heater by dt
func (b *Bank) Tick(dt time.Duration) {
	if dt <= 0 {
		return
	}
	for _, h := range b.heaters {
		h.tick(dt)
	}
}

// DisableAll turns every heater off
func (b *Bank) DisableAll() {
	for _, h := range b.heaters {
		h.target = 0
	}
}
