package standalone

import "time"

// Position represents a position in machine coordinates
type Position struct {
	X float64
	Y float64
	Z float64
	E float64 // Extruder
}

// Axis returns the coordinate for axis index 0..3 (X, Y, Z, E)
func (p Position) Axis(i int) float64 {
	switch i {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	default:
		return p.E
	}
}

// Move represents a planned move with timing information
type Move struct {
	Start    Position
	End      Position
	Velocity float64       // Max velocity (mm/s)
	Accel    float64       // Acceleration (mm/s^2)
	Distance float64       // Total distance (mm)
	Duration time.Duration // Total move time

	// Trapezoidal profile parameters
	AccelTime  time.Duration // Time spent accelerating
	CruiseTime time.Duration // Time spent at cruise velocity
	DecelTime  time.Duration // Time spent decelerating
	CruiseVel  float64       // Actual cruise velocity reached
	StartVel   float64       // Starting velocity
	EndVel     float64       // Ending velocity
}

// AxisConfig represents configuration for a single axis
type AxisConfig struct {
	StepsPerMM  float64 `yaml:"steps_per_mm"`
	MaxVelocity float64 `yaml:"max_velocity"` // mm/s
	MaxAccel    float64 `yaml:"max_accel"`    // mm/s^2
	HomingVel   float64 `yaml:"homing_vel"`   // mm/s
	MinPosition float64 `yaml:"min_position"` // mm
	MaxPosition float64 `yaml:"max_position"` // mm
	InvertDir   bool    `yaml:"invert_dir"`
}

// HeaterConfig represents configuration for a simulated heater
type HeaterConfig struct {
	MinTemp  float64 `yaml:"min_temp"`
	MaxTemp  float64 `yaml:"max_temp"`
	HeatRate float64 `yaml:"heat_rate"` // degrees per second, both directions
	Ambient  float64 `yaml:"ambient"`
}

// RecoveryConfig is the power-loss recovery block of the machine config
type RecoveryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	SaveInterval    time.Duration `yaml:"save_interval"`
	SaveEachCommand bool          `yaml:"save_each_command"`
	MinZChange      float64       `yaml:"min_z_change"`
	ZRaise          float64       `yaml:"z_raise"`
	PurgeLength     float64       `yaml:"purge_length"`
	RetractLength   float64       `yaml:"retract_length"`
	PurgeFeedrate   float64       `yaml:"purge_feedrate"`   // mm/min
	RetractFeedrate float64       `yaml:"retract_feedrate"` // mm/min
	BackupPower     bool          `yaml:"backup_power"`
	ZPolicy         string        `yaml:"z_policy"` // "trust" or "rehome"
	ZHomePos        [2]float64    `yaml:"z_home_pos"`
	OutageThreshold int           `yaml:"outage_threshold"`
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	Kinematics string                  `yaml:"kinematics"` // "cartesian"
	Axes       map[string]AxisConfig   `yaml:"axes"`       // "x", "y", "z", "e"
	Heaters    map[string]HeaterConfig `yaml:"heaters"`    // "extruder", "extruder1", "bed", "chamber"

	Extruders      int `yaml:"extruders"`
	Fans           int `yaml:"fans"`
	MixingSteppers int `yaml:"mixing_steppers"`
	ZHomeDir       int `yaml:"z_home_dir"` // -1 toward the bed, +1 away

	// Global motion parameters
	DefaultVelocity   float64 `yaml:"default_velocity"`   // Default feedrate (mm/s)
	DefaultAccel      float64 `yaml:"default_accel"`      // Default acceleration (mm/s^2)
	JunctionDeviation float64 `yaml:"junction_deviation"` // Junction deviation for cornering (mm)

	Recovery RecoveryConfig `yaml:"recovery"`
}

// MachineState represents the current machine state. Positions from the
// planner are native; logical = native + HomeOffset + PositionShift.
type MachineState struct {
	Homed           [4]bool    // Homing status [X, Y, Z, E]
	AbsoluteMode    bool       // Absolute (G90) vs relative (G91) positioning
	ExtrudeRelative bool       // Relative (M83) vs absolute (M82) extrusion
	FeedRate        float64    // Current feedrate (mm/s)
	FeedMultiplier  float64    // M220 percentage
	HomeOffset      [3]float64 // M206
	PositionShift   [3]float64 // G92 / M1002
	ActiveTool      int

	FanSpeeds []uint8

	Leveling   bool
	FadeHeight float64

	Retracted       []float64 // per extruder
	RetractLength   float64
	RetractHop      float64
	RetractFeedrate float64 // mm/s

	Volumetric       bool
	FilamentDiameter []float64
	LogicalE         float64 // last E in command units (mm³ when volumetric)

	MixWeights []float64
	MixVTool   int
}

// GCodeCommand represents a parsed G-code command
type GCodeCommand struct {
	Type       byte             // 'G', 'M', 'T'
	Number     int              // Command number (e.g., 0 for G0, 28 for G28)
	Subcode    int              // Dotted subcode (9 for G92.9), -1 if none
	Parameters map[byte]float64 // Parameters (X, Y, Z, E, F, S, etc.)
	Text       string           // Free-text argument (M23 file name)
	Comment    string           // Comment text
}

// HasParameter checks if a parameter exists in the command
func (cmd *GCodeCommand) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *GCodeCommand) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

// Is reports whether cmd is the given command without subcode
func (cmd *GCodeCommand) Is(typ byte, number int) bool {
	return cmd.Type == typ && cmd.Number == number && cmd.Subcode < 0
}
