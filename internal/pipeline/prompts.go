package pipeline

import (
	"fmt"
	"math"

	"github.com/bobarin/beatframe/internal/jobs"
)

const (
	DefaultImageStyle = "Cinematic music video still, urban night atmosphere. Shot on professional cinema camera with shallow depth of field. " +
		"Neon lights casting vibrant colors, moody atmospheric lighting with high contrast, cinematic color grading with teal and orange tones. " +
		"4k ultra quality, photorealistic, professional composition."

	DefaultImageNegativePrompt = "blurry, low quality, distorted, ugly, deformed, cartoon, anime, illustration, painting, 3d render, " +
		"oversaturated, overexposed, bad anatomy, bad proportions, text, watermark, signature"

	DefaultVideoNegativePrompt = "blurry, low quality, distorted, watermark, static, no movement, frozen frame, bad composition"

	videoStyleSuffix = "Professional music video cinematography, dynamic composition, smooth motion, neon lighting and urban atmosphere."

	imageSize = "2048*2048"
	videoSize = "1280*720"
	editSize  = "1024x1024"

	// Provider clip length bounds, in whole seconds.
	minClipSeconds = 3
	maxClipSeconds = 10
)

// cameraMovements rotate by scene index so consecutive clips differ in motion.
var cameraMovements = []string{
	"Smooth tracking shot moving forward",
	"Dynamic handheld camera following the action",
	"Slow dolly zoom emphasizing the subject",
	"Cinematic crane shot rising upward",
	"Fast-paced whip pan between subjects",
	"Steady cam circling around the scene",
	"Low angle push-in shot",
	"High angle establishing shot descending",
	"Smooth slider shot moving left to right",
	"360-degree rotation around the center",
}

// Style controls how scene prompts are expanded before submission.
type Style struct {
	ImagePrefix         string
	ImageNegativePrompt string
	VideoNegativePrompt string
}

func DefaultStyle() Style {
	return Style{
		ImagePrefix:         DefaultImageStyle,
		ImageNegativePrompt: DefaultImageNegativePrompt,
		VideoNegativePrompt: DefaultVideoNegativePrompt,
	}
}

// ClampClipDuration rounds a scene duration to the provider's accepted
// range of whole seconds.
func ClampClipDuration(seconds float64) int {
	d := int(math.Round(seconds))
	if d < minClipSeconds {
		return minClipSeconds
	}
	if d > maxClipSeconds {
		return maxClipSeconds
	}
	return d
}

// CameraMovement returns the movement used for the scene at index.
func CameraMovement(index int) string {
	if index < 0 {
		index = -index
	}
	return cameraMovements[index%len(cameraMovements)]
}

func (s Style) imageRequest(prompt string) jobs.Request {
	full := prompt
	if s.ImagePrefix != "" {
		full = fmt.Sprintf("%s\n\nScene: %s", s.ImagePrefix, prompt)
	}
	return jobs.Request{Input: jobs.Input{
		Prompt:              full,
		NegativePrompt:      s.ImageNegativePrompt,
		Size:                imageSize,
		Seed:                -1,
		EnableSafetyChecker: true,
	}}
}

func (s Style) videoRequest(index int, prompt, imageURL string, duration float64) jobs.Request {
	expansion := false
	return jobs.Request{Input: jobs.Input{
		Prompt:                fmt.Sprintf("%s. %s. %s", CameraMovement(index), prompt, videoStyleSuffix),
		NegativePrompt:        s.VideoNegativePrompt,
		Image:                 imageURL,
		Size:                  videoSize,
		Duration:              ClampClipDuration(duration),
		Seed:                  -1,
		EnablePromptExpansion: &expansion,
		EnableSafetyChecker:   true,
	}}
}

func editRequest(prompt, sceneImageURL, characterImageURL string) jobs.Request {
	blend := "Seamlessly blend the person from the second image into the scene from the first image. " + prompt +
		" The person should appear naturally integrated with proper lighting matching the environment, correct perspective and scale," +
		" realistic shadows and reflections, and consistent with the cinematic atmosphere of the scene." +
		" Make it look like they were originally part of this photo."
	return jobs.Request{Input: jobs.Input{
		Prompt:              blend,
		Images:              []string{sceneImageURL, characterImageURL},
		Size:                editSize,
		Seed:                -1,
		EnableSafetyChecker: true,
	}}
}
