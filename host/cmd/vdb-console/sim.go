package main

import (
	"math"
	"sync"
	"time"

	"vdblink/protocol"
)

// simRobot is a differential drive robot moving in a circle; it backs the
// builtin records the simulate command announces
type simRobot struct {
	mu    sync.Mutex
	start time.Time
	pose  protocol.Pose
	gains protocol.PIDGains
	last  time.Time
}

func newSimRobot() *simRobot {
	now := time.Now()
	return &simRobot{
		start: now,
		last:  now,
		gains: protocol.PIDGains{P: 1.2, I: 0.05, D: 0.3},
	}
}

func (r *simRobot) elapsed() float64 {
	return time.Since(r.start).Seconds()
}

// step advances the pose to the current time
func (r *simRobot) step() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	dt := now.Sub(r.last).Seconds()
	r.last = now

	const speed, turnRate = 0.5, 30.0
	heading := r.pose.Rotation * math.Pi / 180
	r.pose.X += speed * dt * math.Cos(heading)
	r.pose.Y += speed * dt * math.Sin(heading)
	r.pose.Rotation = math.Mod(r.pose.Rotation+turnRate*dt, 360)
}

func (r *simRobot) Position() float64    { return math.Mod(r.elapsed()*90, 360) }
func (r *simRobot) Velocity() float64    { return 90 + 5*math.Sin(r.elapsed()) }
func (r *simRobot) Temperature() float64 { return 35 + 0.1*r.elapsed() }
func (r *simRobot) Voltage() float64     { return 12.4 - 0.001*r.elapsed() }
func (r *simRobot) Current() float64     { return 40 + 10*math.Sin(r.elapsed()/2) }

func (r *simRobot) Pose() protocol.Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pose
}

func (r *simRobot) SetPose(p protocol.Pose) {
	r.mu.Lock()
	r.pose = p
	r.mu.Unlock()
}

func (r *simRobot) Gains() protocol.PIDGains {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gains
}

func (r *simRobot) SetGains(g protocol.PIDGains) {
	r.mu.Lock()
	r.gains = g
	r.mu.Unlock()
}

func (r *simRobot) Error() float64  { return 2 * math.Sin(r.elapsed()*3) }
func (r *simRobot) Output() float64 { return r.Gains().P * r.Error() }
func (r *simRobot) Angular() bool   { return true }

// channels returns the records the simulator announces
func (r *simRobot) channels() []protocol.Part {
	var ticks uint32
	return []protocol.Part{
		protocol.NewMotor("left_motor", r),
		protocol.NewOdometry("odometry", r),
		protocol.NewPID("heading_pid", r),
		protocol.NewTimestamped("heartbeat", protocol.NewUint32("ticks", func() uint32 {
			ticks++
			return ticks
		}), nil),
	}
}
