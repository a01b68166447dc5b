package fees

import (
	"math"

	"github.com/ethereum/go-ethereum/log"

	"github.com/quorumlabs/slotqueue/internal/config"
)

// Schedule computes the minimum acceptable priority fee as a function
// of queue occupancy. Three zones:
//
//   - flat:        occupancy <= low threshold  → base fee
//   - linear ramp: low < occupancy <= high     → base fee up to
//     base * rampMultiple at the high threshold
//   - exponential: occupancy > high            → the ramp top value
//     multiplied by (10000+stepBps)/10000 once per stepPct points
//     above the high threshold
//
// Occupancy is clamped to 100 before use and the result never exceeds
// the configured ceiling, so the arithmetic cannot overflow.
type Schedule struct {
	baseFee uint64
	maxFee  uint64
	lowPct  uint64
	highPct uint64
	ramp    uint64
	stepPct uint64
	stepBps uint64
	logger  log.Logger
}

// NewSchedule builds a fee schedule from configuration.
func NewSchedule(cfg *config.FeeConfig) *Schedule {
	s := &Schedule{
		baseFee: cfg.BaseFee,
		maxFee:  cfg.MaxFee,
		lowPct:  cfg.LowOccupancyPct,
		highPct: cfg.HighOccupancyPct,
		ramp:    cfg.RampMultiple,
		stepPct: cfg.StepPct,
		stepBps: cfg.StepMultiplierBps,
		logger:  log.New("module", "fee-schedule"),
	}
	if s.ramp == 0 {
		s.ramp = 1
	}
	if s.stepPct == 0 {
		s.stepPct = 1
	}
	if s.highPct <= s.lowPct {
		s.highPct = s.lowPct + 1
	}
	return s
}

// BaseFee returns the flat-zone fee floor.
func (s *Schedule) BaseFee() uint64 { return s.baseFee }

// MinRequiredFee returns the fee floor at the given occupancy
// percentage.
func (s *Schedule) MinRequiredFee(occupancyPct uint64) uint64 {
	if occupancyPct > 100 {
		occupancyPct = 100
	}

	if occupancyPct <= s.lowPct {
		return s.baseFee
	}

	rampTop := s.mulClamped(s.baseFee, s.ramp)
	if occupancyPct <= s.highPct {
		// Linear interpolation between baseFee at lowPct and rampTop
		// at highPct.
		span := s.highPct - s.lowPct
		rise := rampTop - s.baseFee
		return s.baseFee + mulDiv(rise, occupancyPct-s.lowPct, span)
	}

	fee := rampTop
	steps := (occupancyPct - s.highPct) / s.stepPct
	for i := uint64(0); i < steps; i++ {
		next := mulDiv(fee, 10000+s.stepBps, 10000)
		if next < fee || next >= s.maxFee {
			return s.maxFee
		}
		fee = next
	}
	if fee > s.maxFee {
		fee = s.maxFee
	}
	return fee
}

// mulClamped multiplies, clamping at the configured ceiling on overflow.
func (s *Schedule) mulClamped(a, b uint64) uint64 {
	if b != 0 && a > math.MaxUint64/b {
		return s.maxFee
	}
	v := a * b
	if s.maxFee > 0 && v > s.maxFee {
		return s.maxFee
	}
	return v
}

// mulDiv computes a*num/den without intermediate overflow for
// den <= 10000-scale operands, splitting a into quotient and remainder
// by den first.
func mulDiv(a, num, den uint64) uint64 {
	return a/den*num + a%den*num/den
}
