/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package servo

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
)

// narrowBandOffsetNs and narrowBandOmegaFloor bound the region in which the
// natural frequency is halved to damp steady-state dither once the loop is
// already tracking closely.
const (
	narrowBandOffsetNs   = 100
	narrowBandOmegaFloor = 6.0
)

// PiControllerCfg configures the PI clock-steering loop.
type PiControllerCfg struct {
	// DampingRatio is zeta in Kp = 2*zeta*omega.
	DampingRatio float64
	// NatFreqRatio divides the tick-derived angular frequency; must be
	// nonzero.
	NatFreqRatio float64
	// IntegralWindupLimit clamps the accumulated integral term; zero
	// disables the clamp.
	IntegralWindupLimit float64
	// MaxThreshold is the absolute offset, in nanoseconds, above which
	// Step applies a one-shot absolute correction instead of trusting
	// the frequency-only path.
	MaxThreshold int64
}

// DefaultPiControllerCfg returns conservative defaults modeled on a
// critically-damped loop with a one-second nominal sync interval.
func DefaultPiControllerCfg() PiControllerCfg {
	return PiControllerCfg{
		DampingRatio:        1.0,
		NatFreqRatio:        4.0,
		IntegralWindupLimit: 1e9,
		MaxThreshold:        1_000_000_000,
	}
}

// Validate returns an error describing the first invalid field, matching
// the PI-category "missing/bad config" error kind.
func (c PiControllerCfg) Validate() error {
	if c.NatFreqRatio == 0 {
		return fmt.Errorf("servo: nat_freq_ratio must be nonzero")
	}
	if c.DampingRatio <= 0 {
		return fmt.Errorf("servo: damping_ratio must be positive")
	}
	return nil
}

// PiController is the single global PI loop steering the authoritative
// slave domain's clock. It is not safe for concurrent use; the dispatcher
// invokes it from the single cooperative execution context.
type PiController struct {
	cfg      PiControllerCfg
	integral float64
	lastPPB  float64
}

// NewPiController builds a PiController from cfg. The caller should have
// already validated cfg with Validate.
func NewPiController(cfg PiControllerCfg) *PiController {
	return &PiController{cfg: cfg}
}

// Reset clears accumulated integral state, as happens whenever the
// dispatcher takes the one-shot step path.
func (p *PiController) Reset() {
	p.integral = 0
}

// LastFreq returns the most recently computed frequency correction, in
// parts-per-billion.
func (p *PiController) LastFreq() float64 {
	return p.lastPPB
}

// Sample runs one iteration of the frequency-only PI path: errorNs is the
// signed offset (negative when the local clock runs ahead), syncIntervalLog
// is log2 of the current sync interval in seconds. It returns the new
// frequency correction in parts-per-billion, clamped to the int32 range.
func (p *PiController) Sample(errorNs int64, syncIntervalLog int8) (int32, State) {
	dt := math.Pow(2, float64(syncIntervalLog))
	omega := (2 * math.Pi / dt) / p.cfg.NatFreqRatio

	absErr := errorNs
	if absErr < 0 {
		absErr = -absErr
	}
	if absErr < narrowBandOffsetNs && omega > narrowBandOmegaFloor {
		omega /= 2
	}

	kp := 2 * p.cfg.DampingRatio * omega
	ki := omega * omega

	p.integral += float64(errorNs) * ki * dt
	if p.cfg.IntegralWindupLimit != 0 {
		if p.integral > p.cfg.IntegralWindupLimit {
			p.integral = p.cfg.IntegralWindupLimit
		} else if p.integral < -p.cfg.IntegralWindupLimit {
			p.integral = -p.cfg.IntegralWindupLimit
		}
	}

	out := kp*float64(errorNs) + p.integral
	p.lastPPB = out

	if out > math.MaxInt32 {
		out = math.MaxInt32
	} else if out < math.MinInt32 {
		out = math.MinInt32
	}
	return int32(out), StateLocked
}

// Step wraps Sample with the dispatcher's mode switch: offsets larger than
// cfg.MaxThreshold take a one-shot absolute step and reset the integral
// term; smaller offsets drive the frequency-only path with stepNs held at
// zero.
func (p *PiController) Step(errorNs int64, syncIntervalLog int8) (stepNs int64, freqPPB int32, state State) {
	absErr := errorNs
	if absErr < 0 {
		absErr = -absErr
	}
	if absErr > p.cfg.MaxThreshold {
		p.Reset()
		log.WithField("offset_ns", errorNs).Warning("servo: offset above step threshold, applying absolute step")
		return errorNs, 0, StateJump
	}
	freqPPB, state = p.Sample(errorNs, syncIntervalLog)
	return 0, freqPPB, state
}
