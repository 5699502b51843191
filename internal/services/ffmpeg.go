package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bobarin/beatframe/internal/audio"
	"github.com/bobarin/beatframe/internal/jobs"
)

// AnalysisSampleRate is the rate tracks are resampled to before beat
// detection. 100ms frames are 2205 samples at this rate.
const AnalysisSampleRate = 22050

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir string
}

func NewFFmpegService(tempDir string) *FFmpegService {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}

	return &FFmpegService{
		tempDir: tempDir,
	}
}

// DecodePCM decodes any audio file ffmpeg understands into mono float32
// samples at sampleRate.
func (s *FFmpegService) DecodePCM(ctx context.Context, audioPath string, sampleRate int) ([]float32, error) {
	args := []string{
		"-v", "error",
		"-i", audioPath,
		"-ac", "1", // Downmix to mono
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le", // Raw little-endian float32
		"-",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w (%s)", err, jobs.Truncate(strings.TrimSpace(stderr.String()), 300))
	}

	samples, err := audio.DecodeFloat32LE(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to decode pcm: %w", err)
	}

	log.Printf("[FFmpeg] Decoded %s: %d samples (%.1fs at %dHz)", filepath.Base(audioPath), len(samples), float64(len(samples))/float64(sampleRate), sampleRate)
	return samples, nil
}

// ConcatenateClips joins clips end to end. Clips are re-encoded to a common
// format because they may come from different renderers.
func (s *FFmpegService) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	// Create a concat list file, unique per call so concurrent stitches don't collide
	listPath := filepath.Join(s.tempDir, fmt.Sprintf("concat_%s.txt", uuid.New()))
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}

	for _, path := range clipPaths {
		// Write in FFmpeg concat format
		fmt.Fprintf(f, "file '%s'\n", strings.ReplaceAll(path, "'", `'\''`))
	}
	f.Close()
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", "scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2,fps=30",
		"-an", // Clip audio is replaced by the track
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}

	return nil
}

// ReplaceAudio lays the music track under a silent video. The output ends
// with whichever stream is shorter.
func (s *FFmpegService) ReplaceAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	log.Printf("[FFmpeg] Muxing %s under %s", filepath.Base(audioPath), filepath.Base(videoPath))

	args := []string{
		"-i", videoPath, // Input 0: concatenated clips
		"-i", audioPath, // Input 1: original track
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy", // Video was just encoded, copy as-is
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg replace audio failed: %w", err)
	}

	return nil
}

// GetMediaDuration returns the duration of an audio or video file in seconds.
func (s *FFmpegService) GetMediaDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	durationSec, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return durationSec, nil
}

// CreateTempFile returns a path in the service's temp directory
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}
