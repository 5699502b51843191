// Package audio turns a mono waveform into beat events and the coarse
// loudness/brightness descriptors used to condition scene prompts.
package audio

import (
	"fmt"
	"math"

	"github.com/bobarin/beatframe/internal/models"
)

const (
	// FrameSeconds is the analysis hop: energy is measured per 100ms frame.
	FrameSeconds = 0.1

	historyFrames = 43 // ~4.3s trailing window
	minHistory    = 10 // frames required before any beat is accepted

	MinSensitivity = 0.0
	MaxSensitivity = 2.0

	// gapEpsilon absorbs float error in frame-index * FrameSeconds so that
	// pulses exactly minGap apart are not rejected.
	gapEpsilon = 1e-9
)

// BeatEvent is a detected rhythmic onset.
type BeatEvent struct {
	Time       float64 `json:"time"`
	Amplitude  float64 `json:"amplitude"`
	Confidence float64 `json:"confidence"`
}

// ThresholdConstant returns C: a frame is a beat candidate when its energy
// exceeds C times the trailing average. Ranges over [1.3, 1.9].
func ThresholdConstant(sensitivity float64) float64 {
	return 1.3 + sensitivity*0.3
}

// MinBeatGap returns the minimum spacing in seconds between accepted beats.
// Ranges over [1.0, 2.0].
func MinBeatGap(sensitivity float64) float64 {
	return 1.0 + sensitivity*0.5
}

// DetectBeats runs adaptive energy thresholding over samples and returns the
// accepted beats in ascending time order. Output is deterministic for fixed
// inputs.
func DetectBeats(samples []float32, sampleRate int, sensitivity float64) ([]BeatEvent, error) {
	if err := validateInput(sampleRate, sensitivity); err != nil {
		return nil, err
	}

	frameLen := int(float64(sampleRate) * FrameSeconds)
	if frameLen < 1 {
		frameLen = 1
	}
	totalFrames := len(samples) / frameLen

	c := ThresholdConstant(sensitivity)
	minGap := MinBeatGap(sensitivity)

	history := make([]float64, 0, historyFrames+1)
	beats := make([]BeatEvent, 0)

	for i := 0; i < totalFrames; i++ {
		start := i * frameLen
		energy := meanSquare(samples[start : start+frameLen])

		history = append(history, energy)
		if len(history) > historyFrames {
			copy(history, history[1:])
			history = history[:historyFrames]
		}

		if len(history) < minHistory {
			continue
		}

		// Summed fresh each frame: a running sum drifts below zero after
		// loud passages and would let silent frames through.
		var sum float64
		for _, e := range history {
			sum += e
		}
		threshold := c * (sum / float64(len(history)))

		if !(energy > threshold) {
			continue
		}

		t := float64(i) * FrameSeconds
		if n := len(beats); n > 0 && t-beats[n-1].Time < minGap-gapEpsilon {
			continue
		}

		beats = append(beats, BeatEvent{
			Time:       t,
			Amplitude:  energy,
			Confidence: math.Min(1, energy/threshold),
		})
	}

	return beats, nil
}

func validateInput(sampleRate int, sensitivity float64) error {
	if sampleRate <= 0 {
		return &models.ValidationError{Field: "sampleRate", Reason: fmt.Sprintf("must be positive, got %d", sampleRate)}
	}
	if math.IsNaN(sensitivity) || sensitivity < MinSensitivity || sensitivity > MaxSensitivity {
		return &models.ValidationError{Field: "sensitivity", Reason: fmt.Sprintf("must be within [%g, %g], got %g", MinSensitivity, MaxSensitivity, sensitivity)}
	}
	return nil
}

func meanSquare(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return sum / float64(len(frame))
}
