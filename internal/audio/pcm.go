package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeFloat32LE converts raw little-endian float32 PCM (ffmpeg's f32le
// output) into samples.
func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("pcm data length %d is not a multiple of 4", len(data))
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}
