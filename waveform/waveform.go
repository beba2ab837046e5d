// Package waveform holds the pure, side-effect-free evaluators that map a
// declarative waveform specification and an elapsed-time value to a
// sample. Nothing in this package touches a memory image or a clock;
// the simulation engine supplies both.
package waveform

import (
	"math"
)

// Source is the PRNG surface the waveform evaluators need. Spec §4.1
// calls for a single PRNG stream per agent process, shared by every
// device's engine; callers crossing goroutines must supply an
// implementation safe for concurrent use (math/rand.Rand alone is not).
type Source interface {
	Float64() float64
}

// Kind names one of the waveform families a profile entry can declare.
type Kind string

const (
	Fixed        Kind = "fixed"
	Static       Kind = "static"
	Sine         Kind = "sine"
	Sawtooth     Kind = "sawtooth"
	Triangle     Kind = "triangle"
	Square       Kind = "square"
	RandomWalk   Kind = "random_walk"
	Noise        Kind = "noise"
	Counter      Kind = "counter"
	ExpDecay     Kind = "exp_decay"
	StepSequence Kind = "step_sequence"
	RandomBool   Kind = "random"
)

// Spec is the tagged-variant waveform specification of data model §3. Not
// every field applies to every Kind; unused fields are simply left zero.
type Spec struct {
	Kind Kind `json:"pattern"`

	Value float64 `json:"value"` // fixed

	Min float64 `json:"min"` // static (initial), sine/sawtooth/triangle/random_walk
	Max float64 `json:"max"`

	PeriodS float64 `json:"period_s"` // sine/sawtooth/triangle

	OnS  float64 `json:"on_s"` // square
	OffS float64 `json:"off_s"`

	Step    float64 `json:"step"` // random_walk
	Initial float64 `json:"initial"`

	Base      float64 `json:"base"` // noise
	Amplitude float64 `json:"amplitude"`

	// Max also doubles as the counter wraparound bound ("max" in spec's
	// counter row); counter specs leave Min unused.

	Target       float64 `json:"target"`        // exp_decay
	TimeConstant float64 `json:"time_constant"`
	StartOffset  float64 `json:"start_offset"`

	Values    []float64 `json:"values"`    // step_sequence
	Durations []float64 `json:"durations"`

	Probability float64 `json:"probability"` // random
}

// Result is the outcome of evaluating a Spec at one instant. Static is set
// when the simulator must leave the memory cell untouched; Bool carries
// the value for boolean waveforms (square, random), Float64 otherwise.
type Result struct {
	Float64 float64
	Bool    bool
	IsBool  bool
	Static  bool
}

// Eval evaluates spec at elapsed time t (seconds since simulation start).
// prev is the previously-held value and is only consulted for RandomWalk;
// rng supplies the single per-agent PRNG stream (spec §4.1).
func Eval(spec Spec, t float64, prev float64, rng Source) Result {
	switch spec.Kind {
	case Fixed:
		return Result{Float64: spec.Value}

	case Static:
		return Result{Static: true}

	case Sine:
		v := spec.Min + (math.Sin(2*math.Pi*t/spec.PeriodS)+1)/2*(spec.Max-spec.Min)
		return Result{Float64: v}

	case Sawtooth:
		phase := math.Mod(t, spec.PeriodS) / spec.PeriodS
		return Result{Float64: spec.Min + phase*(spec.Max-spec.Min)}

	case Triangle:
		half := spec.PeriodS / 2
		phase := math.Mod(t, spec.PeriodS)
		var frac float64
		if phase < half {
			frac = phase / half
		} else {
			frac = 1 - (phase-half)/half
		}
		return Result{Float64: spec.Min + frac*(spec.Max-spec.Min)}

	case Square:
		cycle := spec.OnS + spec.OffS
		if cycle <= 0 {
			return Result{IsBool: true, Bool: false}
		}
		phase := math.Mod(t, cycle)
		return Result{IsBool: true, Bool: phase < spec.OnS}

	case RandomWalk:
		delta := (rng.Float64()*2 - 1) * spec.Step
		v := prev + delta
		if v < spec.Min {
			v = spec.Min
		}
		if v > spec.Max {
			v = spec.Max
		}
		return Result{Float64: v}

	case Noise:
		delta := (rng.Float64()*2 - 1) * spec.Amplitude
		return Result{Float64: spec.Base + delta}

	case Counter:
		if spec.Max <= 0 {
			return Result{Float64: 0}
		}
		return Result{Float64: math.Mod(math.Floor(t), spec.Max)}

	case ExpDecay:
		elapsed := t - spec.StartOffset
		if elapsed < 0 {
			elapsed = 0
		}
		v := spec.Target + (spec.Initial-spec.Target)*math.Exp(-elapsed/spec.TimeConstant)
		return Result{Float64: v}

	case StepSequence:
		return Result{Float64: stepSequenceValue(spec, t)}

	case RandomBool:
		return Result{IsBool: true, Bool: rng.Float64() < spec.Probability}

	default:
		return Result{Float64: 0}
	}
}

// InitialValue returns the value a Static entry is seeded with on its
// first tick: Value when non-zero, otherwise Min.
func InitialValue(spec Spec) float64 {
	if spec.Value != 0 {
		return spec.Value
	}
	return spec.Min
}

func stepSequenceValue(spec Spec, t float64) float64 {
	if len(spec.Values) == 0 || len(spec.Durations) == 0 {
		return 0
	}
	var total float64
	for _, d := range spec.Durations {
		total += d
	}
	if total <= 0 {
		return spec.Values[0]
	}
	phase := math.Mod(t, total)
	var acc float64
	for i, d := range spec.Durations {
		acc += d
		if phase < acc {
			if i < len(spec.Values) {
				return spec.Values[i]
			}
			return spec.Values[len(spec.Values)-1]
		}
	}
	return spec.Values[len(spec.Values)-1]
}
