package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePID struct {
	gains   PIDGains
	angular bool
	set     []PIDGains
}

func (f *fakePID) Gains() PIDGains     { return f.gains }
func (f *fakePID) Error() float64      { return 0.25 }
func (f *fakePID) Output() float64     { return -1 }
func (f *fakePID) Angular() bool       { return f.angular }
func (f *fakePID) SetGains(g PIDGains) { f.set = append(f.set, g) }

type fakeOdom struct {
	pose Pose
}

func (f *fakeOdom) Pose() Pose     { return f.pose }
func (f *fakeOdom) SetPose(p Pose) { f.pose = p }

type fakeMotor struct{}

func (fakeMotor) Position() float64    { return 90 }
func (fakeMotor) Velocity() float64    { return 10 }
func (fakeMotor) Temperature() float64 { return 35 }
func (fakeMotor) Voltage() float64     { return 12 }
func (fakeMotor) Current() float64     { return 40 }

func TestPIDRecordFetchAndTune(t *testing.T) {
	src := &fakePID{gains: PIDGains{P: 1, I: 0.5, D: 0.25}, angular: true}
	rec := NewPID("drive_pid", src)
	rec.Fetch()

	kind, _ := rec.Field("Type")
	assert.Equal(t, "Angular", kind.(*String).Value())
	p, _ := rec.Field("P")
	assert.Equal(t, float32(1), p.(*Number[float32]).Value())

	// a console response carrying only P
	resp := rec.Clone().(*Record)
	MarkAbsent(resp)
	require.NoError(t, SetLeaf(resp.fields[1], "2.5"))

	merged := rec.Clone()
	MergeChanged(merged, resp)
	merged.Response()

	require.Len(t, src.set, 1)
	assert.Equal(t, PIDGains{P: 2.5, I: 0.5, D: 0.25}, src.set[0])
}

func TestOdometryResponseSetsPose(t *testing.T) {
	src := &fakeOdom{pose: Pose{X: 1, Y: 2, Rotation: 45}}
	rec := NewOdometry("odom", src)
	rec.Fetch()

	assert.Equal(t, "odom: record[3]{\n\tX:\t1\n\tY:\t2\n\tRotation:\t45\n}", rec.PrettyPrintData())

	rec.fields[0].(*Number[float32]).SetValue(0)
	rec.Response()
	assert.Equal(t, Pose{X: 0, Y: 2, Rotation: 45}, src.pose)
}

func TestMotorAndTimestamped(t *testing.T) {
	rec := NewTimestamped("left", NewMotor("motor", fakeMotor{}), func() float32 { return 3.5 })
	rec.Fetch()

	decoded, err := MakeDecoder(NewPacketReader(SchemaBytes(rec), 0))
	require.NoError(t, err)
	decoded.ReadDataFromMessage(NewPacketReader(MessageBytes(rec), 0))

	ts, ok := Lookup(decoded, "timestamp")
	require.True(t, ok)
	assert.Equal(t, float32(3.5), ts.(*Number[float32]).Value())

	temp, ok := Lookup(decoded, "motor.Temperature(C)")
	require.True(t, ok)
	assert.Equal(t, float32(35), temp.(*Number[float32]).Value())
}
