package jobs

import (
	"encoding/json"
	"strings"

	"github.com/bobarin/beatframe/internal/models"
)

// OutputShape names the output layout an artifact URL was found in.
type OutputShape string

const (
	ShapeResult    OutputShape = "result"
	ShapeSingle    OutputShape = "single" // output.image / output.video / output.video_url
	ShapeList      OutputShape = "list"   // output.images[0] / output.videos[0]
	ShapeURL       OutputShape = "url"    // output.url
	ShapeRawString OutputShape = "raw"    // output is itself the URL string
)

// ArtifactURL is a URL extracted from a completed job's output.
type ArtifactURL struct {
	URL   string
	Shape OutputShape
}

type extractor struct {
	shape OutputShape
	field string
	list  bool
}

// Output shapes tried in order; the first hit wins.
var (
	imageExtractors = []extractor{
		{ShapeResult, "result", false},
		{ShapeSingle, "image", false},
		{ShapeList, "images", true},
		{ShapeURL, "url", false},
	}
	videoExtractors = []extractor{
		{ShapeResult, "result", false},
		{ShapeSingle, "video", false},
		{ShapeSingle, "video_url", false},
		{ShapeList, "videos", true},
		{ShapeURL, "url", false},
	}
)

// ExtractArtifactURL pulls the artifact URL out of a provider output. ok is
// false when no known shape carries a non-empty URL.
func ExtractArtifactURL(kind models.ArtifactKind, output json.RawMessage) (ArtifactURL, bool) {
	if len(output) == 0 {
		return ArtifactURL{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(output, &fields); err == nil {
		chain := imageExtractors
		if kind == models.ArtifactKindVideo {
			chain = videoExtractors
		}
		for _, ex := range chain {
			raw, found := fields[ex.field]
			if !found {
				continue
			}
			if url, ok := ex.extract(raw); ok {
				return ArtifactURL{URL: url, Shape: ex.shape}, true
			}
		}
		return ArtifactURL{}, false
	}

	if url, ok := stringValue(output); ok {
		return ArtifactURL{URL: url, Shape: ShapeRawString}, true
	}
	return ArtifactURL{}, false
}

func (ex extractor) extract(raw json.RawMessage) (string, bool) {
	if !ex.list {
		return stringValue(raw)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return "", false
	}
	return stringValue(items[0])
}

func stringValue(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
