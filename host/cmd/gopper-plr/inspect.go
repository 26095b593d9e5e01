package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gopperplr/recovery"
	"gopperplr/recovery/record"
	"gopperplr/recovery/store"
	"gopperplr/standalone/printer"
)

// recordView is the YAML rendering of a stored record
type recordView struct {
	Valid     bool   `yaml:"valid"`
	ValidHead uint8  `yaml:"valid_head"`
	ValidFoot uint8  `yaml:"valid_foot"`
	File      string `yaml:"file"`
	Offset    uint64 `yaml:"offset"`
	Elapsed   string `yaml:"elapsed"`

	Position      map[string]float64 `yaml:"position"`
	Feedrate      float64            `yaml:"feedrate"`
	Tool          uint8              `yaml:"tool"`
	RelativeAxes  uint8              `yaml:"relative_axes,omitempty"`
	HomeOffset    [3]float64         `yaml:"home_offset,flow"`
	PositionShift [3]float64         `yaml:"position_shift,flow"`
	ZRaise        float64            `yaml:"z_raise,omitempty"`
	Raised        bool               `yaml:"raised,omitempty"`

	HotendTargets []float64 `yaml:"hotend_targets,flow,omitempty"`
	BedTarget     float64   `yaml:"bed_target,omitempty"`
	ChamberTarget float64   `yaml:"chamber_target,omitempty"`
	FanSpeeds     []uint8   `yaml:"fan_speeds,flow,omitempty"`

	Leveling         bool      `yaml:"leveling,omitempty"`
	FadeHeight       float64   `yaml:"fade_height,omitempty"`
	Retracted        []float64 `yaml:"retracted,flow,omitempty"`
	RetractHop       float64   `yaml:"retract_hop,omitempty"`
	Volumetric       bool      `yaml:"volumetric,omitempty"`
	FilamentDiameter []float64 `yaml:"filament_diameter,flow,omitempty"`
	LogicalE         float64   `yaml:"logical_e,omitempty"`
	MixWeights       []float64 `yaml:"mix_weights,flow,omitempty"`
	MixVTool         uint8     `yaml:"mix_vtool,omitempty"`

	Resume []recovery.Step `yaml:"resume,omitempty"`
}

func viewOf(s *record.Snapshot) recordView {
	v := recordView{
		Valid:     record.Valid(s),
		ValidHead: s.ValidHead,
		ValidFoot: s.ValidFoot,
		File:      s.SourcePath,
		Offset:    s.Offset,
		Elapsed:   s.Elapsed.String(),
		Position: map[string]float64{
			"x": s.Position[record.AxisX],
			"y": s.Position[record.AxisY],
			"z": s.Position[record.AxisZ],
			"e": s.Position[record.AxisE],
		},
		Feedrate:         s.Feedrate,
		Tool:             s.ActiveTool,
		RelativeAxes:     s.AxisRelative,
		HomeOffset:       s.HomeOffset,
		PositionShift:    s.PositionShift,
		ZRaise:           s.ZRaise,
		Raised:           s.Raised,
		HotendTargets:    s.HotendTargets,
		BedTarget:        s.BedTarget,
		ChamberTarget:    s.ChamberTarget,
		FanSpeeds:        s.FanSpeeds,
		Leveling:         s.Leveling,
		FadeHeight:       s.FadeHeight,
		RetractHop:       s.RetractHop,
		Volumetric:       s.Volumetric,
		FilamentDiameter: s.FilamentDiameter,
		LogicalE:         s.LogicalE,
		MixWeights:       s.MixWeights,
		MixVTool:         s.MixVTool,
	}
	for _, r := range s.Retract {
		v.Retracted = append(v.Retracted, r.Retracted)
	}
	return v
}

// loadRecord mounts st and decodes the stored record
func loadRecord(st store.Store) (*record.Snapshot, error) {
	if err := st.Mount(); err != nil {
		return nil, err
	}
	ok, err := st.Exists()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNoRecord
	}
	return recovery.Load(st)
}

func newInspectCmd(opts *globalOptions) *cobra.Command {
	var sequence bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the stored recovery record as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			snap, err := loadRecord(st)
			if errors.Is(err, store.ErrNoRecord) {
				fmt.Fprintln(cmd.OutOrStdout(), "no recovery record")
				return nil
			}
			if err != nil {
				return err
			}

			view := viewOf(snap)
			if sequence && view.Valid {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				view.Resume = recovery.BuildSequence(snap, printer.RecoveryConfig(cfg))
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(view); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&sequence, "sequence", false, "include the resume command sequence")
	return cmd
}

func newPurgeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete the stored recovery record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			if err := st.Mount(); err != nil {
				return err
			}
			if err := st.Remove(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "recovery record purged")
			return nil
		},
	}
}
