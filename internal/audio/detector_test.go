package audio

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/bobarin/beatframe/internal/models"
)

const testSampleRate = 8000

// pulseTrack builds a quiet sine bed with 50ms full-scale bursts every
// interval seconds, starting at t=0.
func pulseTrack(durationSec, interval float64) []float32 {
	n := int(durationSec * testSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.01 * math.Sin(2*math.Pi*220*float64(i)/testSampleRate))
	}
	burst := int(0.05 * testSampleRate)
	for t := 0.0; t < durationSec; t += interval {
		start := int(math.Round(t * testSampleRate))
		for i := start; i < start+burst && i < n; i++ {
			samples[i] = 0.8
		}
	}
	return samples
}

func TestSensitivityRanges(t *testing.T) {
	for s := 0.0; s <= 2.0; s += 0.25 {
		c := ThresholdConstant(s)
		if c < 1.3-1e-12 || c > 1.9+1e-12 {
			t.Errorf("sensitivity %v: C=%v outside [1.3,1.9]", s, c)
		}
		gap := MinBeatGap(s)
		if gap < 1.0-1e-12 || gap > 2.0+1e-12 {
			t.Errorf("sensitivity %v: minGap=%v outside [1.0,2.0]", s, gap)
		}
	}

	if got := ThresholdConstant(1.0); math.Abs(got-1.6) > 1e-12 {
		t.Errorf("expected C=1.6 at sensitivity 1, got %v", got)
	}
	if got := MinBeatGap(1.0); got != 1.5 {
		t.Errorf("expected minGap=1.5 at sensitivity 1, got %v", got)
	}
}

func TestDetectBeatsSilence(t *testing.T) {
	silence := make([]float32, 10*testSampleRate)
	for _, s := range []float64{0, 0.5, 1, 1.5, 2} {
		beats, err := DetectBeats(silence, testSampleRate, s)
		if err != nil {
			t.Fatalf("sensitivity %v: unexpected error: %v", s, err)
		}
		if len(beats) != 0 {
			t.Errorf("sensitivity %v: expected no beats in silence, got %d", s, len(beats))
		}
	}
}

func TestDetectBeatsPulseTrain(t *testing.T) {
	const duration, interval = 10.0, 1.5
	beats, err := DetectBeats(pulseTrack(duration, interval), testSampleRate, 1.0)
	if err != nil {
		t.Fatalf("DetectBeats: %v", err)
	}

	// floor(10/1.5)+1 pulses; the one at t=0 lands inside the warm-up
	// history and is never accepted.
	want := int(math.Floor(duration/interval)+1) - 1
	if len(beats) != want {
		t.Fatalf("expected %d beats, got %d: %+v", want, len(beats), beats)
	}

	for i, b := range beats {
		expected := float64(i+1) * interval
		if math.Abs(b.Time-expected) > 1e-6 {
			t.Errorf("beat %d at %v, expected %v", i, b.Time, expected)
		}
		if b.Confidence <= 0 || b.Confidence > 1 {
			t.Errorf("beat %d confidence %v outside (0,1]", i, b.Confidence)
		}
		if i > 0 && b.Time-beats[i-1].Time < 1.5-1e-9 {
			t.Errorf("beats %d and %d closer than 1.5s", i-1, i)
		}
	}
}

func TestDetectBeatsWarmupRejectsEarlyTransients(t *testing.T) {
	// A single burst at 0.5s: only 5 frames of history exist.
	samples := make([]float32, 3*testSampleRate)
	for i := int(0.5 * testSampleRate); i < int(0.55*testSampleRate); i++ {
		samples[i] = 1
	}

	beats, err := DetectBeats(samples, testSampleRate, 0)
	if err != nil {
		t.Fatalf("DetectBeats: %v", err)
	}
	if len(beats) != 0 {
		t.Errorf("expected no beats before 10 frames of history, got %+v", beats)
	}
}

func TestDetectBeatsSpacingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	samples := make([]float32, 30*testSampleRate)
	for i := range samples {
		samples[i] = float32(rng.NormFloat64() * 0.02)
	}
	// Bursts at random, sometimes very close together.
	for k := 0; k < 60; k++ {
		start := rng.Intn(len(samples) - testSampleRate/10)
		amp := float32(0.3 + rng.Float64()*0.6)
		for i := start; i < start+testSampleRate/20; i++ {
			samples[i] = amp
		}
	}

	for _, s := range []float64{0, 0.5, 1, 1.5, 2} {
		beats, err := DetectBeats(samples, testSampleRate, s)
		if err != nil {
			t.Fatalf("sensitivity %v: %v", s, err)
		}
		if len(beats) == 0 {
			t.Errorf("sensitivity %v: expected some beats in a bursty signal", s)
		}
		minGap := MinBeatGap(s)
		for i := 1; i < len(beats); i++ {
			if beats[i].Time <= beats[i-1].Time {
				t.Errorf("sensitivity %v: beats not strictly increasing at %d", s, i)
			}
			if beats[i].Time-beats[i-1].Time < minGap-1e-9 {
				t.Errorf("sensitivity %v: gap %v below minGap %v", s, beats[i].Time-beats[i-1].Time, minGap)
			}
		}
	}
}

func TestDetectBeatsDeterministic(t *testing.T) {
	samples := pulseTrack(8, 1.2)
	first, _ := DetectBeats(samples, testSampleRate, 0.4)
	second, _ := DetectBeats(samples, testSampleRate, 0.4)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic beat count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("beat %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDetectBeatsValidation(t *testing.T) {
	cases := []struct {
		name        string
		sampleRate  int
		sensitivity float64
	}{
		{"zero sample rate", 0, 1},
		{"negative sensitivity", testSampleRate, -0.1},
		{"sensitivity above range", testSampleRate, 2.5},
		{"NaN sensitivity", testSampleRate, math.NaN()},
	}

	for _, tc := range cases {
		_, err := DetectBeats(make([]float32, 100), tc.sampleRate, tc.sensitivity)
		var verr *models.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}
