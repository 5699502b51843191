package audio

import (
	"fmt"
	"math"
)

const (
	beatWindowSeconds = 0.1

	// bassVariationThreshold splits sample-to-sample deltas: slow-moving
	// samples count as bass, fast-moving ones as high frequency.
	bassVariationThreshold = 0.1

	// energyScale maps whole-track RMS into [0,1]; typical mastered music sits
	// around 0.05-0.1 RMS.
	energyScale = 10.0
)

// Characteristics summarises a track for prompt authoring.
type Characteristics struct {
	Tempo         float64       `json:"tempo"`         // BPM
	OverallEnergy float64       `json:"overallEnergy"` // 0-1
	Duration      float64       `json:"duration"`      // seconds
	Beats         []BeatFeature `json:"beats"`
}

// BeatFeature describes the 100ms of audio starting at a beat.
type BeatFeature struct {
	Time             float64 `json:"time"`
	Energy           float64 `json:"energy"` // window RMS
	BassPresence     float64 `json:"bassPresence"`
	HighFreqPresence float64 `json:"highFreqPresence"`
}

// ExtractCharacteristics derives tempo, overall energy and per-beat spectral
// balance.
//
// Bass/high presence is a time-domain approximation, not a spectral
// decomposition: each sample's energy is attributed to "bass" when it moved
// less than 0.1 from the previous sample and to "high" otherwise. Replacing it
// with an FFT band split would change every downstream prompt.
func ExtractCharacteristics(samples []float32, sampleRate int, beats []BeatEvent) (Characteristics, error) {
	if sampleRate <= 0 {
		return Characteristics{}, fmt.Errorf("extract characteristics: sample rate must be positive, got %d", sampleRate)
	}

	out := Characteristics{
		Tempo:         Tempo(beats),
		OverallEnergy: overallEnergy(samples),
		Duration:      float64(len(samples)) / float64(sampleRate),
		Beats:         make([]BeatFeature, 0, len(beats)),
	}

	window := int(beatWindowSeconds * float64(sampleRate))
	for _, beat := range beats {
		out.Beats = append(out.Beats, beatFeature(samples, sampleRate, window, beat.Time))
	}

	return out, nil
}

// Tempo converts the mean inter-beat interval to whole BPM. Fewer than two
// beats give no interval and a tempo of 0.
func Tempo(beats []BeatEvent) float64 {
	if len(beats) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(beats); i++ {
		total += beats[i].Time - beats[i-1].Time
	}
	avg := total / float64(len(beats)-1)
	if avg <= 0 {
		return 0
	}
	return math.Round(60 / avg)
}

func overallEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	rms := math.Sqrt(meanSquare(samples))
	return clamp01(rms * energyScale)
}

func beatFeature(samples []float32, sampleRate, window int, t float64) BeatFeature {
	f := BeatFeature{Time: t, BassPresence: 0.5, HighFreqPresence: 0.5}

	start := int(math.Floor(t * float64(sampleRate)))
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return f
	}

	var total, bass, high float64
	for i := start; i < end; i++ {
		s := float64(samples[i])
		sq := s * s
		total += sq

		if i == start {
			continue
		}
		if math.Abs(s-float64(samples[i-1])) < bassVariationThreshold {
			bass += sq
		} else {
			high += sq
		}
	}

	f.Energy = math.Sqrt(total / float64(end-start))
	if buckets := bass + high; buckets > 0 {
		f.BassPresence = clamp01(bass / buckets)
		f.HighFreqPresence = clamp01(high / buckets)
	}
	return f
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
