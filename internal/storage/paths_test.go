package storage

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestContentTypeFor(t *testing.T) {
	cases := []struct {
		name, declared, want string
	}{
		{"song.mp3", "", "audio/mpeg"},
		{"song.WAV", "application/octet-stream", "audio/wav"},
		{"song.m4a", "audio/x-m4a", "audio/x-m4a"},
		{"still.png", "image/png; charset=binary", "image/png"},
		{"final.mp4", "", "video/mp4"},
		{"blob", "", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := ContentTypeFor(tc.name, tc.declared); got != tc.want {
			t.Errorf("ContentTypeFor(%q, %q) = %q, want %q", tc.name, tc.declared, got, tc.want)
		}
	}
}

func TestTrackObjectPaths(t *testing.T) {
	track := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	job := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	prefix := "tracks/11111111-2222-3333-4444-555555555555/"

	if got := AudioPath(track, ".WAV"); got != prefix+"audio.wav" {
		t.Errorf("AudioPath = %q", got)
	}
	if got := AudioPath(track, ""); got != prefix+"audio.mp3" {
		t.Errorf("AudioPath default = %q", got)
	}
	if got := StitchedPath(track, job); got != prefix+"stitched/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee.mp4" {
		t.Errorf("StitchedPath = %q", got)
	}

	png := CharacterPath(track, "image/png")
	if !strings.HasPrefix(png, prefix+"characters/") || !strings.HasSuffix(png, ".png") {
		t.Errorf("CharacterPath(png) = %q", png)
	}
	if other := CharacterPath(track, "image/png"); other == png {
		t.Error("expected distinct character paths per upload")
	}
	if got := CharacterPath(track, "image/heic"); !strings.HasSuffix(got, ".jpg") {
		t.Errorf("CharacterPath(unknown) = %q, want .jpg fallback", got)
	}
}

func TestRenderPathIsStableAndSafe(t *testing.T) {
	op := "models/veo-3.1-generate-preview/operations/op-42"
	if a, b := RenderPath("veo", op), RenderPath("veo", op); a != b || a != "renders/veo/op-42.mp4" {
		t.Errorf("RenderPath = %q, %q", a, b)
	}
	if got := RenderPath("veo", "../../etc/passwd"); strings.Contains(got, "..") || strings.Count(got, "/") != 2 {
		t.Errorf("RenderPath escaped its directory: %q", got)
	}
	if got := RenderPath("veo", ""); got != "renders/veo/unnamed.mp4" {
		t.Errorf("RenderPath(empty) = %q", got)
	}
}
