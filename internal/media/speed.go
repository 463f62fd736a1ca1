package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSpeed reports a rate outside the stepped speed table.
var ErrUnknownSpeed = errors.New("unknown playback speed")

// Speed is a stepped playback rate.
type Speed string

const (
	SpeedHalf Speed = "0.5x"
	Speed1x   Speed = "1x"
	Speed2x   Speed = "2x"
	Speed4x   Speed = "4x"
	Speed8x   Speed = "8x"
	Speed16x  Speed = "16x"
	Speed32x  Speed = "32x"
)

// speedSteps orders the table from slowest to fastest.
var speedSteps = []Speed{SpeedHalf, Speed1x, Speed2x, Speed4x, Speed8x, Speed16x, Speed32x}

var speedRates = map[Speed]float64{
	SpeedHalf: 0.5,
	Speed1x:   1,
	Speed2x:   2,
	Speed4x:   4,
	Speed8x:   8,
	Speed16x:  16,
	Speed32x:  32,
}

// ParseSpeed accepts the table form ("2x") with or without the suffix.
func ParseSpeed(value string) (Speed, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized != "" && !strings.HasSuffix(normalized, "x") {
		normalized += "x"
	}
	s := Speed(normalized)
	if _, ok := speedRates[s]; !ok {
		return Speed1x, fmt.Errorf("%w: %q is not one of %v", ErrUnknownSpeed, value, speedSteps)
	}
	return s, nil
}

// Rate returns the engine rate multiplier for s.
func (s Speed) Rate() float64 {
	if rate, ok := speedRates[s]; ok {
		return rate
	}
	return 1
}

func (s Speed) String() string { return string(s) }

func (s Speed) index() int {
	for i, step := range speedSteps {
		if step == s {
			return i
		}
	}
	return 1
}

// Faster returns the next step up, saturating at the fastest.
func (s Speed) Faster() Speed {
	i := s.index()
	if i+1 < len(speedSteps) {
		return speedSteps[i+1]
	}
	return speedSteps[len(speedSteps)-1]
}

// Slower returns the next step down, saturating at the slowest.
func (s Speed) Slower() Speed {
	i := s.index()
	if i > 0 {
		return speedSteps[i-1]
	}
	return speedSteps[0]
}
