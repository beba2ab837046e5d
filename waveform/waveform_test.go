package waveform

import (
	"math"
	"math/rand"
	"testing"
)

// Sine must stay within [min, max] for all t >= 0.
func TestSineBounds(t *testing.T) {
	spec := Spec{Kind: Sine, Min: 20, Max: 80, PeriodS: 300}
	rng := rand.New(rand.NewSource(1))
	for step := 0; step < 1000; step++ {
		elapsed := float64(step) * 1.7
		r := Eval(spec, elapsed, 0, rng)
		if r.Float64 < spec.Min-1e-9 || r.Float64 > spec.Max+1e-9 {
			t.Errorf("sine at t=%v out of range, got %v expected within [%v,%v]", elapsed, r.Float64, spec.Min, spec.Max)
		}
	}
}

// Sawtooth must equal min at every period boundary t = k*period.
func TestSawtoothPeriodBoundary(t *testing.T) {
	spec := Spec{Kind: Sawtooth, Min: 10, Max: 50, PeriodS: 60}
	rng := rand.New(rand.NewSource(1))
	for k := 0; k < 5; k++ {
		elapsed := float64(k) * spec.PeriodS
		r := Eval(spec, elapsed, 0, rng)
		if math.Abs(r.Float64-spec.Min) > 1e-6 {
			t.Errorf("sawtooth at period boundary k=%d got %v expected %v", k, r.Float64, spec.Min)
		}
	}
}

func TestSquareDutyCycle(t *testing.T) {
	spec := Spec{Kind: Square, OnS: 3, OffS: 7}
	rng := rand.New(rand.NewSource(1))
	const cycles = 100
	onCount := 0
	const stepsPerCycle = 100
	for i := 0; i < cycles*stepsPerCycle; i++ {
		elapsed := (spec.OnS + spec.OffS) * float64(i) / float64(stepsPerCycle)
		r := Eval(spec, elapsed, 0, rng)
		if r.Bool {
			onCount++
		}
	}
	got := float64(onCount) / float64(cycles*stepsPerCycle)
	want := spec.OnS / (spec.OnS + spec.OffS)
	if math.Abs(got-want) > 0.02 {
		t.Errorf("square duty cycle got %v expected %v", got, want)
	}
}

func TestRandomWalkStaysInBounds(t *testing.T) {
	spec := Spec{Kind: RandomWalk, Min: 0, Max: 10, Step: 2, Initial: 5}
	rng := rand.New(rand.NewSource(42))
	v := spec.Initial
	for i := 0; i < 10000; i++ {
		r := Eval(spec, float64(i), v, rng)
		if r.Float64 < spec.Min || r.Float64 > spec.Max {
			t.Errorf("random_walk out of bounds at step %d: got %v", i, r.Float64)
		}
		v = r.Float64
	}
}

func TestStaticSentinel(t *testing.T) {
	spec := Spec{Kind: Static, Min: 7}
	rng := rand.New(rand.NewSource(1))
	r := Eval(spec, 123, 0, rng)
	if !r.Static {
		t.Errorf("static waveform did not return Static sentinel")
	}
	if InitialValue(spec) != 7 {
		t.Errorf("static initial value got %v expected 7", InitialValue(spec))
	}
}

func TestCounterWraps(t *testing.T) {
	spec := Spec{Kind: Counter, Max: 10}
	rng := rand.New(rand.NewSource(1))
	r := Eval(spec, 23, 0, rng)
	if r.Float64 != 3 {
		t.Errorf("counter got %v expected 3", r.Float64)
	}
}

func TestStepSequenceCycles(t *testing.T) {
	spec := Spec{
		Kind:      StepSequence,
		Values:    []float64{1, 2, 3},
		Durations: []float64{2, 2, 2},
	}
	rng := rand.New(rand.NewSource(1))
	cases := []struct {
		t    float64
		want float64
	}{
		{0, 1}, {1.9, 1}, {2.1, 2}, {4.1, 3}, {6.1, 1},
	}
	for _, c := range cases {
		r := Eval(spec, c.t, 0, rng)
		if r.Float64 != c.want {
			t.Errorf("step_sequence at t=%v got %v expected %v", c.t, r.Float64, c.want)
		}
	}
}

func TestExpDecayApproachesTarget(t *testing.T) {
	spec := Spec{Kind: ExpDecay, Initial: 100, Target: 20, TimeConstant: 10}
	rng := rand.New(rand.NewSource(1))
	r0 := Eval(spec, 0, 0, rng)
	if math.Abs(r0.Float64-spec.Initial) > 1e-6 {
		t.Errorf("exp_decay at t=0 got %v expected %v", r0.Float64, spec.Initial)
	}
	rFar := Eval(spec, 1000, 0, rng)
	if math.Abs(rFar.Float64-spec.Target) > 0.01 {
		t.Errorf("exp_decay at large t got %v expected near %v", rFar.Float64, spec.Target)
	}
}
