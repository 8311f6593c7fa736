package protocol

import "time"

// Builtin records for common robot subsystems. Each binds its leaves to a
// collaborator interface; values are read on Fetch.

// MotorSource reports motor telemetry
type MotorSource interface {
	Position() float64    // degrees
	Velocity() float64    // degrees per second
	Temperature() float64 // celsius
	Voltage() float64     // volts
	Current() float64     // percent of rated
}

// Pose is a planar position estimate
type Pose struct {
	X, Y     float64
	Rotation float64 // degrees
}

// PoseSource reports the current pose estimate
type PoseSource interface {
	Pose() Pose
}

// PoseSink accepts a pose override from the console
type PoseSink interface {
	SetPose(Pose)
}

// PIDGains are the tunable terms of a PID loop
type PIDGains struct {
	P, I, D float64
}

// PIDSource reports the state of a PID loop
type PIDSource interface {
	Gains() PIDGains
	Error() float64
	Output() float64
	Angular() bool
}

// PIDTuner accepts new gains from the console
type PIDTuner interface {
	SetGains(PIDGains)
}

var processStart = time.Now()

func f32(fn func() float64) func() float32 {
	return func() float32 { return float32(fn()) }
}

func floatAt(r *Record, i int) float64 {
	if n, ok := r.fields[i].(*Number[float32]); ok {
		return float64(n.value)
	}
	return 0
}

// NewTimestamped wraps data in a record with a leading "timestamp" float
// of seconds. A nil clock measures seconds since process start.
func NewTimestamped(name string, data Part, clock func() float32) *Record {
	if clock == nil {
		clock = func() float32 { return float32(time.Since(processStart).Seconds()) }
	}
	return NewRecord(name, NewFloat("timestamp", clock), data)
}

// NewMotor exposes a motor's telemetry
func NewMotor(name string, m MotorSource) *Record {
	return NewRecord(name,
		NewFloat("Position(deg)", f32(m.Position)),
		NewFloat("velocity(dps)", f32(m.Velocity)),
		NewFloat("Temperature(C)", f32(m.Temperature)),
		NewFloat("Voltage(V)", f32(m.Voltage)),
		NewFloat("Current(%)", f32(m.Current)),
	)
}

// NewOdometry exposes a pose estimate. If src also implements PoseSink,
// a response carrying a pose is written back to it.
func NewOdometry(name string, src PoseSource) *Record {
	r := NewRecord(name,
		NewFloat("X", func() float32 { return float32(src.Pose().X) }),
		NewFloat("Y", func() float32 { return float32(src.Pose().Y) }),
		NewFloat("Rotation", func() float32 { return float32(src.Pose().Rotation) }),
	)
	if sink, ok := src.(PoseSink); ok {
		r.OnResponse(func(rec *Record) {
			sink.SetPose(Pose{X: floatAt(rec, 0), Y: floatAt(rec, 1), Rotation: floatAt(rec, 2)})
		})
	}
	return r
}

// NewPID exposes a PID loop. If src also implements PIDTuner, a response
// carrying gains is written back to it.
func NewPID(name string, src PIDSource) *Record {
	kind := func() string {
		if src.Angular() {
			return "Angular"
		}
		return "Linear"
	}
	r := NewRecord(name,
		NewString("Type", kind),
		NewFloat("P", func() float32 { return float32(src.Gains().P) }),
		NewFloat("I", func() float32 { return float32(src.Gains().I) }),
		NewFloat("D", func() float32 { return float32(src.Gains().D) }),
		NewFloat("Error", f32(src.Error)),
		NewFloat("Output", f32(src.Output)),
	)
	if tuner, ok := src.(PIDTuner); ok {
		r.OnResponse(func(rec *Record) {
			tuner.SetGains(PIDGains{P: floatAt(rec, 1), I: floatAt(rec, 2), D: floatAt(rec, 3)})
		})
	}
	return r
}
