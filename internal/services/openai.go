package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bobarin/beatframe/internal/audio"
	"github.com/bobarin/beatframe/internal/jobs"
	"github.com/bobarin/beatframe/internal/models"
)

const (
	scenePromptModel = "gpt-4o"

	DefaultVisualTheme = "Nightlife music video: low-key city streets, neon-lit clubs, graffiti walls and illuminated landmarks at night"
)

// PromptService authors one visual scene prompt per detected beat.
type PromptService struct {
	client *openai.Client
	model  string
	theme  string
}

func NewPromptService(apiKey, theme string) *PromptService {
	if theme == "" {
		theme = DefaultVisualTheme
	}
	return &PromptService{
		client: openai.NewClient(apiKey),
		model:  scenePromptModel,
		theme:  theme,
	}
}

// scenePromptResponse is the JSON object the model is asked to return.
type scenePromptResponse struct {
	Scenes []models.StoryboardItem `json:"scenes"`
}

// GenerateScenePrompts asks the model for a scene description per beat.
func (s *PromptService) GenerateScenePrompts(ctx context.Context, audioName string, c audio.Characteristics) ([]models.StoryboardItem, error) {
	if len(c.Beats) == 0 {
		return nil, &models.ValidationError{Field: "beats", Reason: "no beats detected in track"}
	}

	log.Printf("[OpenAI prompts] Generating scene prompts for %d beats (%s)", len(c.Beats), audioName)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildScenePromptSystemPrompt(s.theme),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildScenePromptUserPrompt(audioName, c, s.theme),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content
	items, err := parseScenePrompts(rawContent)
	if err != nil {
		log.Printf("[OpenAI prompts] parse failed: %v", err)
		log.Printf("[OpenAI prompts] raw response: %s", jobs.Truncate(rawContent, 2000))
		return nil, err
	}

	log.Printf("[OpenAI prompts] Generated %d scene prompts", len(items))
	return items, nil
}

// EnergyLevel describes overall track energy in words.
func EnergyLevel(overall float64) string {
	switch {
	case overall > 0.7:
		return "high energy"
	case overall > 0.4:
		return "moderate energy"
	default:
		return "calm"
	}
}

// TempoDescription describes a BPM value in words.
func TempoDescription(bpm float64) string {
	switch {
	case bpm > 140:
		return "fast-paced"
	case bpm > 100:
		return "upbeat"
	case bpm > 80:
		return "mid-tempo"
	default:
		return "slow"
	}
}

func describeBeat(index int, b audio.BeatFeature) string {
	energy := "soft"
	if b.Energy > 0.7 {
		energy = "intense"
	} else if b.Energy > 0.4 {
		energy = "moderate"
	}

	balance := "treble-focused"
	if b.BassPresence > 0.6 {
		balance = "bass-heavy"
	} else if b.BassPresence > 0.4 {
		balance = "balanced"
	}

	return fmt.Sprintf("Beat %d at %.2fs: %s, %s", index+1, b.Time, energy, balance)
}

func buildScenePromptSystemPrompt(theme string) string {
	return fmt.Sprintf(`You are a creative music video director. You translate the rhythm and energy of a track into a sequence of striking, concrete visual scenes.

Visual theme: %s

Respond with a JSON object of the form {"scenes": [{"timestamp": 0.5, "prompt": "description"}, ...]} and nothing else.`, theme)
}

func buildScenePromptUserPrompt(audioName string, c audio.Characteristics, theme string) string {
	var b strings.Builder
	for i, beat := range c.Beats {
		b.WriteString(describeBeat(i, beat))
		b.WriteString("\n")
	}

	return fmt.Sprintf(`Create a music video for "%s" with these audio characteristics:
- Tempo: %.0f BPM (%s)
- Overall Energy: %.0f%% (%s)
- Duration: %.1fs
- Total Beats: %d

Beat Analysis:
%s
THEME: %s

Generate a visually striking scene description for each beat, using the exact beat time as the timestamp, that:
1. Matches energy levels: intense beats = dynamic action, soft beats = moody, lingering shots
2. Reflects the tempo: fast = quick cuts between locations, slow = atmospheric shots
3. Uses bass-heavy beats for powerful reveals or crowd energy
4. Stays consistent with the theme throughout

Keep descriptions concise but evocative. Focus on visual details, lighting and location.`,
		audioName, c.Tempo, TempoDescription(c.Tempo), c.OverallEnergy*100, EnergyLevel(c.OverallEnergy),
		c.Duration, len(c.Beats), b.String(), theme)
}

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parseScenePrompts accepts {"scenes": [...]}, a bare array, or an array
// embedded in prose. Entries with empty prompts or duplicate timestamps are
// dropped; the result is sorted by timestamp.
func parseScenePrompts(raw string) ([]models.StoryboardItem, error) {
	var items []models.StoryboardItem

	var wrapped scenePromptResponse
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && len(wrapped.Scenes) > 0 {
		items = wrapped.Scenes
	} else if m := jsonArrayPattern.FindString(raw); m != "" {
		if err := json.Unmarshal([]byte(m), &items); err != nil {
			return nil, fmt.Errorf("failed to parse scene prompts: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to parse scene prompts: no JSON array in response")
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp < items[j].Timestamp })

	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		key := models.FormatTimestamp(it.Timestamp)
		it.Prompt = strings.TrimSpace(it.Prompt)
		if it.Prompt == "" || it.Timestamp < 0 || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no usable scene prompts")
	}
	return out, nil
}
