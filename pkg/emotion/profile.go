// Package emotion resolves expressive synthesis profiles for sentences.
package emotion

import (
	"fmt"
	"math"
)

const Neutral = "neutral"

// Parameter names understood by synthesis providers.
const (
	ParamTemperature       = "temperature"
	ParamSpeed             = "speed"
	ParamRepetitionPenalty = "repetition_penalty"
	ParamLengthPenalty     = "length_penalty"
	ParamTopP              = "top_p"
	ParamTopK              = "top_k"
)

// Profile is an immutable named bundle of synthesis parameters with an
// optional reference recording.
type Profile struct {
	Name          string
	Params        map[string]float64
	ReferencePath string
	Reference     []byte
}

// Param returns the named parameter or fallback.
func (p Profile) Param(name string, fallback float64) float64 {
	if v, ok := p.Params[name]; ok {
		return v
	}
	return fallback
}

// HasReference reports whether reference audio was loaded.
func (p Profile) HasReference() bool { return len(p.Reference) > 0 }

// DefaultParams are the synthesis defaults every profile starts from.
func DefaultParams() map[string]float64 {
	return map[string]float64{
		ParamTemperature:       0.8,
		ParamSpeed:             1.0,
		ParamRepetitionPenalty: 10.0,
		ParamLengthPenalty:     1.0,
		ParamTopP:              0.85,
		ParamTopK:              50,
	}
}

// DefaultPresets tune the defaults per emotion.
func DefaultPresets() map[string]map[string]float64 {
	return map[string]map[string]float64{
		Neutral: {
			ParamTemperature:       0.4,
			ParamSpeed:             1.0,
			ParamRepetitionPenalty: 12.0,
			ParamTopP:              0.75,
		},
		"happy": {
			ParamTemperature:       1.0,
			ParamSpeed:             1.1,
			ParamRepetitionPenalty: 8.0,
			ParamTopP:              0.9,
		},
		"sad": {
			ParamTemperature:       0.7,
			ParamSpeed:             0.85,
			ParamRepetitionPenalty: 12.0,
			ParamTopP:              0.8,
		},
		"professional": {
			ParamTemperature:       0.5,
			ParamSpeed:             0.95,
			ParamRepetitionPenalty: 15.0,
			ParamTopP:              0.75,
		},
		"gentle": {
			ParamTemperature:       0.65,
			ParamSpeed:             0.9,
			ParamRepetitionPenalty: 11.0,
			ParamTopP:              0.8,
		},
	}
}

func mergeParams(overrides map[string]float64) map[string]float64 {
	out := DefaultParams()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func validateParams(name string, params map[string]float64) error {
	for k, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("profile %s: %s is not a finite number", name, k)
		}
		if v < 0 {
			return fmt.Errorf("profile %s: %s must not be negative", name, k)
		}
	}
	if params[ParamSpeed] == 0 {
		return fmt.Errorf("profile %s: speed must be positive", name)
	}
	return nil
}
