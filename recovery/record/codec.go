package record

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// On-media layout:
//
//	"PLR" | version | tagged fields (protobuf wire format) | CRC16 (LE)
//
// The tagged body starts with valid_head and ends with valid_foot. Optional
// feature sections are written only when they carry state, and unknown
// fields are skipped on decode, so a record written by a build with a
// different feature set still decodes.
const (
	// Version is the current record format version
	Version = 1

	// MaxSize bounds a stored record; reads never ask for more
	MaxSize = 1024

	headerLen  = 4
	trailerLen = 2
)

var magic = [3]byte{'P', 'L', 'R'}

var (
	ErrBadMagic           = errors.New("record: bad magic")
	ErrUnsupportedVersion = errors.New("record: unsupported version")
	ErrChecksum           = errors.New("record: checksum mismatch")
	ErrTruncated          = errors.New("record: truncated")
	ErrMalformed          = errors.New("record: malformed field")
)

// Top-level field numbers
const (
	fieldValidHead  protowire.Number = 1
	fieldMotion     protowire.Number = 2
	fieldThermal    protowire.Number = 3
	fieldJob        protowire.Number = 4
	fieldLeveling   protowire.Number = 5
	fieldRetract    protowire.Number = 6
	fieldVolumetric protowire.Number = 7
	fieldMixing     protowire.Number = 8
	fieldValidFoot  protowire.Number = 15
)

// Encode serializes s. The output is deterministic for a given snapshot.
func Encode(s *Snapshot) []byte {
	b := make([]byte, 0, 256)
	b = append(b, magic[:]...)
	b = append(b, Version)

	b = appendUint(b, fieldValidHead, uint64(s.ValidHead))
	b = appendMessage(b, fieldMotion, encodeMotion(s))
	b = appendMessage(b, fieldThermal, encodeThermal(s))
	b = appendMessage(b, fieldJob, encodeJob(s))
	if s.Leveling || s.FadeHeight != 0 {
		var m []byte
		m = appendBool(m, 1, s.Leveling)
		m = appendDouble(m, 2, s.FadeHeight)
		b = appendMessage(b, fieldLeveling, m)
	}
	if len(s.Retract) > 0 || s.RetractHop != 0 {
		var m []byte
		for _, r := range s.Retract {
			m = appendDouble(m, 1, r.Retracted)
		}
		m = appendDouble(m, 2, s.RetractHop)
		b = appendMessage(b, fieldRetract, m)
	}
	if s.Volumetric || len(s.FilamentDiameter) > 0 || s.LogicalE != 0 {
		var m []byte
		m = appendBool(m, 1, s.Volumetric)
		for _, d := range s.FilamentDiameter {
			m = appendDouble(m, 2, d)
		}
		m = appendDouble(m, 3, s.LogicalE)
		b = appendMessage(b, fieldVolumetric, m)
	}
	if len(s.MixWeights) > 0 || s.MixVTool != 0 {
		var m []byte
		for _, w := range s.MixWeights {
			m = appendDouble(m, 1, w)
		}
		m = appendUint(m, 2, uint64(s.MixVTool))
		b = appendMessage(b, fieldMixing, m)
	}
	b = appendUint(b, fieldValidFoot, uint64(s.ValidFoot))

	crc := checksum(b)
	return append(b, byte(crc), byte(crc>>8))
}

func encodeMotion(s *Snapshot) []byte {
	var m []byte
	for _, p := range s.Position {
		m = appendDouble(m, 1, p)
	}
	m = appendDouble(m, 2, s.Feedrate)
	m = appendUint(m, 3, uint64(s.ActiveTool))
	m = appendUint(m, 4, uint64(s.AxisRelative))
	for _, v := range s.HomeOffset {
		m = appendDouble(m, 5, v)
	}
	for _, v := range s.PositionShift {
		m = appendDouble(m, 6, v)
	}
	m = appendDouble(m, 7, s.ZRaise)
	m = appendBool(m, 8, s.Raised)
	return m
}

func encodeThermal(s *Snapshot) []byte {
	var m []byte
	for _, t := range s.HotendTargets {
		m = appendDouble(m, 1, t)
	}
	m = appendDouble(m, 2, s.BedTarget)
	m = appendDouble(m, 3, s.ChamberTarget)
	if len(s.FanSpeeds) > 0 {
		m = protowire.AppendTag(m, 4, protowire.BytesType)
		m = protowire.AppendBytes(m, s.FanSpeeds)
	}
	return m
}

func encodeJob(s *Snapshot) []byte {
	var m []byte
	m = protowire.AppendTag(m, 1, protowire.BytesType)
	m = protowire.AppendString(m, s.SourcePath)
	m = appendUint(m, 2, s.Offset)
	m = appendUint(m, 3, protowire.EncodeZigZag(int64(s.Elapsed)))
	return m
}

// Decode parses a record produced by Encode. It checks framing and the
// checksum but not the head/foot counters; use Valid for that.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < headerLen+trailerLen {
		return nil, ErrTruncated
	}
	if data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] {
		return nil, ErrBadMagic
	}
	if data[3] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[3])
	}

	body := data[:len(data)-trailerLen]
	want := uint16(data[len(data)-2]) | uint16(data[len(data)-1])<<8
	if got := checksum(body); got != want {
		return nil, fmt.Errorf("%w: got %04X want %04X", ErrChecksum, got, want)
	}

	s := &Snapshot{}
	err := walk(body[headerLen:], func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldValidHead:
			v, n, err := consumeUint(typ, b)
			s.ValidHead = uint8(v)
			return n, err
		case fieldValidFoot:
			v, n, err := consumeUint(typ, b)
			s.ValidFoot = uint8(v)
			return n, err
		case fieldMotion:
			return consumeMessage(typ, b, func(m []byte) error { return decodeMotion(m, s) })
		case fieldThermal:
			return consumeMessage(typ, b, func(m []byte) error { return decodeThermal(m, s) })
		case fieldJob:
			return consumeMessage(typ, b, func(m []byte) error { return decodeJob(m, s) })
		case fieldLeveling:
			return consumeMessage(typ, b, func(m []byte) error { return decodeLeveling(m, s) })
		case fieldRetract:
			return consumeMessage(typ, b, func(m []byte) error { return decodeRetract(m, s) })
		case fieldVolumetric:
			return consumeMessage(typ, b, func(m []byte) error { return decodeVolumetric(m, s) })
		case fieldMixing:
			return consumeMessage(typ, b, func(m []byte) error { return decodeMixing(m, s) })
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func decodeMotion(b []byte, s *Snapshot) error {
	var pos, home, shift int
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeDouble(typ, b)
			if pos < len(s.Position) {
				s.Position[pos] = v
			}
			pos++
			return n, err
		case 2:
			v, n, err := consumeDouble(typ, b)
			s.Feedrate = v
			return n, err
		case 3:
			v, n, err := consumeUint(typ, b)
			s.ActiveTool = uint8(v)
			return n, err
		case 4:
			v, n, err := consumeUint(typ, b)
			s.AxisRelative = uint8(v)
			return n, err
		case 5:
			v, n, err := consumeDouble(typ, b)
			if home < len(s.HomeOffset) {
				s.HomeOffset[home] = v
			}
			home++
			return n, err
		case 6:
			v, n, err := consumeDouble(typ, b)
			if shift < len(s.PositionShift) {
				s.PositionShift[shift] = v
			}
			shift++
			return n, err
		case 7:
			v, n, err := consumeDouble(typ, b)
			s.ZRaise = v
			return n, err
		case 8:
			v, n, err := consumeUint(typ, b)
			s.Raised = protowire.DecodeBool(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodeThermal(b []byte, s *Snapshot) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeDouble(typ, b)
			s.HotendTargets = append(s.HotendTargets, v)
			return n, err
		case 2:
			v, n, err := consumeDouble(typ, b)
			s.BedTarget = v
			return n, err
		case 3:
			v, n, err := consumeDouble(typ, b)
			s.ChamberTarget = v
			return n, err
		case 4:
			if typ != protowire.BytesType {
				return 0, fmt.Errorf("%w: fan speeds", ErrMalformed)
			}
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 && len(v) > 0 {
				s.FanSpeeds = append([]uint8(nil), v...)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodeJob(b []byte, s *Snapshot) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			if typ != protowire.BytesType {
				return 0, fmt.Errorf("%w: source path", ErrMalformed)
			}
			v, n := protowire.ConsumeString(b)
			s.SourcePath = v
			return n, nil
		case 2:
			v, n, err := consumeUint(typ, b)
			s.Offset = v
			return n, err
		case 3:
			v, n, err := consumeUint(typ, b)
			s.Elapsed = time.Duration(protowire.DecodeZigZag(v))
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodeLeveling(b []byte, s *Snapshot) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(typ, b)
			s.Leveling = protowire.DecodeBool(v)
			return n, err
		case 2:
			v, n, err := consumeDouble(typ, b)
			s.FadeHeight = v
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodeRetract(b []byte, s *Snapshot) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeDouble(typ, b)
			s.Retract = append(s.Retract, RetractState{Retracted: v})
			return n, err
		case 2:
			v, n, err := consumeDouble(typ, b)
			s.RetractHop = v
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodeVolumetric(b []byte, s *Snapshot) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(typ, b)
			s.Volumetric = protowire.DecodeBool(v)
			return n, err
		case 2:
			v, n, err := consumeDouble(typ, b)
			s.FilamentDiameter = append(s.FilamentDiameter, v)
			return n, err
		case 3:
			v, n, err := consumeDouble(typ, b)
			s.LogicalE = v
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodeMixing(b []byte, s *Snapshot) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeDouble(typ, b)
			s.MixWeights = append(s.MixWeights, v)
			return n, err
		case 2:
			v, n, err := consumeUint(typ, b)
			s.MixVTool = uint8(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// walk iterates the tagged fields of b. fn consumes one field value and
// returns its length; a negative length is a protowire parse error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrTruncated, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeMessage(typ protowire.Type, b []byte, fn func([]byte) error) (int, error) {
	if typ != protowire.BytesType {
		return 0, ErrMalformed
	}
	m, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	return n, fn(m)
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, ErrMalformed
	}
	v, n := protowire.ConsumeFixed64(b)
	return math.Float64frombits(v), n, nil
}

func consumeUint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, ErrMalformed
	}
	v, n := protowire.ConsumeVarint(b)
	return v, n, nil
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendUint(b, num, protowire.EncodeBool(v))
}
