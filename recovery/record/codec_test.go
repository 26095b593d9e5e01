package record

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		ValidHead:        7,
		Position:         [NumAxes]float64{120.5, 87.25, 5.26, 1432.75},
		Feedrate:         60,
		ActiveTool:       1,
		AxisRelative:     RelE,
		HomeOffset:       [3]float64{0, 0, -0.15},
		PositionShift:    [3]float64{2, -3, 0},
		ZRaise:           2,
		Raised:           true,
		HotendTargets:    []float64{215, 0},
		BedTarget:        60,
		ChamberTarget:    35,
		FanSpeeds:        []uint8{255, 128},
		SourcePath:       "/sd/benchy.gcode",
		Offset:           184_322,
		Elapsed:          42*time.Minute + 17*time.Second,
		Leveling:         true,
		FadeHeight:       10,
		Retract:          []RetractState{{Retracted: 0.8}, {}},
		RetractHop:       0.4,
		Volumetric:       true,
		FilamentDiameter: []float64{1.75, 2.85},
		LogicalE:         3441.5,
		MixWeights:       []float64{0.25, 0.75},
		MixVTool:         3,
		ValidFoot:        7,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		snap *Snapshot
	}{
		{name: "full", snap: sampleSnapshot()},
		{name: "minimal", snap: &Snapshot{ValidHead: 1, ValidFoot: 1, SourcePath: "a.g"}},
		{name: "negative zero and fractions", snap: &Snapshot{
			ValidHead: 255, ValidFoot: 255,
			Position: [NumAxes]float64{math.Copysign(0, -1), 0.1, 0.2, -3.3333333333},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(Encode(tt.snap))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.snap, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
			for i := range tt.snap.Position {
				assert.Equal(t, math.Float64bits(tt.snap.Position[i]), math.Float64bits(got.Position[i]))
			}
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	assert.Equal(t, Encode(sampleSnapshot()), Encode(sampleSnapshot()))
}

func TestEncodeOmitsAbsentFeatures(t *testing.T) {
	full := Encode(sampleSnapshot())
	bare := Encode(&Snapshot{ValidHead: 1, ValidFoot: 1})
	assert.Less(t, len(bare), len(full))
	assert.LessOrEqual(t, len(full), MaxSize)
}

func TestDecodeTornWrite(t *testing.T) {
	s := sampleSnapshot()
	s.ValidFoot = s.ValidHead - 1

	got, err := Decode(Encode(s))
	require.NoError(t, err)
	assert.False(t, Valid(got))
}

func TestDecodeErrors(t *testing.T) {
	good := Encode(sampleSnapshot())
	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"short", good[:4], ErrTruncated},
		{"magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b }), ErrBadMagic},
		{"version", mutate(func(b []byte) []byte { b[3] = Version + 1; return b }), ErrUnsupportedVersion},
		{"flipped bit", mutate(func(b []byte) []byte { b[len(b)/2] ^= 0x10; return b }), ErrChecksum},
		{"truncated body", good[:len(good)-5], ErrChecksum},
		{"erased", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, ErrBadMagic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// reframe rebuilds a record around body with a fresh checksum.
func reframe(body []byte) []byte {
	b := append([]byte{'P', 'L', 'R', Version}, body...)
	crc := checksum(b)
	return append(b, byte(crc), byte(crc>>8))
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	var body []byte
	body = appendUint(body, fieldValidHead, 4)
	body = appendDouble(body, 11, 3.14)
	body = appendMessage(body, 12, []byte("future section"))
	body = appendMessage(body, fieldJob, appendUint(nil, 9, 99))
	body = appendUint(body, fieldValidFoot, 4)

	got, err := Decode(reframe(body))
	require.NoError(t, err)
	assert.True(t, Valid(got))
	assert.Equal(t, uint8(4), got.ValidHead)
}

func TestDecodeWrongWireType(t *testing.T) {
	var body []byte
	body = appendDouble(body, fieldValidHead, 1)

	_, err := Decode(reframe(body))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeTruncatedField(t *testing.T) {
	body := protowire.AppendTag(nil, fieldMotion, protowire.BytesType)
	body = protowire.AppendVarint(body, 40)

	_, err := Decode(reframe(body))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestValidAndNextValid(t *testing.T) {
	assert.False(t, Valid(nil))
	assert.False(t, Valid(&Snapshot{}))
	assert.True(t, Valid(&Snapshot{ValidHead: 3, ValidFoot: 3}))

	assert.Equal(t, uint8(1), NextValid(0))
	assert.Equal(t, uint8(2), NextValid(1))
	assert.Equal(t, uint8(1), NextValid(255))
}

func TestCloneIsDeep(t *testing.T) {
	s := sampleSnapshot()
	c := s.Clone()
	c.HotendTargets[0] = 0
	c.Retract[0].Retracted = 0
	c.FanSpeeds[0] = 0

	assert.Equal(t, 215.0, s.HotendTargets[0])
	assert.Equal(t, 0.8, s.Retract[0].Retracted)
	assert.Equal(t, uint8(255), s.FanSpeeds[0])
}
