package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"beats": []float64{1.5, 3.0},
		"tempo": 40.0,
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["tempo"] != 40.0 {
		t.Errorf("expected tempo=40, got %v", result["tempo"])
	}
}

func TestJSONBScan(t *testing.T) {
	var j JSONB
	if err := j.Scan([]byte(`{"sensitivity": 1, "name": "track"}`)); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["name"] != "track" {
		t.Errorf("expected name=track, got %v", j["name"])
	}

	if err := j.Scan(nil); err != nil || j != nil {
		t.Errorf("expected nil JSONB after scanning NULL, got %v (err=%v)", j, err)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	for _, ts := range []float64{0, 1.5, 2, 12.3, 100.05} {
		got, err := ParseTimestamp(FormatTimestamp(ts))
		if err != nil {
			t.Fatalf("ParseTimestamp(%v): %v", ts, err)
		}
		if got != ts {
			t.Errorf("round trip of %v gave %v", ts, got)
		}
	}

	if FormatTimestamp(2) != "2" {
		t.Errorf("expected shortest form, got %q", FormatTimestamp(2))
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "-1"} {
		_, err := ParseTimestamp(in)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("ParseTimestamp(%q): expected ValidationError, got %v", in, err)
		}
	}
}

func TestArtifactReady(t *testing.T) {
	cases := []struct {
		name string
		a    *Artifact
		want bool
	}{
		{"nil", nil, false},
		{"completed with url", &Artifact{Status: SceneStatusCompleted, URL: "https://x/1.png"}, true},
		{"completed without url", &Artifact{Status: SceneStatusCompleted}, false},
		{"processing", &Artifact{Status: SceneStatusProcessing, URL: "https://x/1.png"}, false},
		{"failed", &Artifact{Status: SceneStatusFailed}, false},
	}

	for _, tc := range cases {
		if got := tc.a.Ready(); got != tc.want {
			t.Errorf("%s: Ready() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestArtifactKindValid(t *testing.T) {
	for _, k := range []ArtifactKind{ArtifactKindImage, ArtifactKindVideo, ArtifactKindEdit} {
		if !k.Valid() {
			t.Errorf("expected %q to be valid", k)
		}
	}
	if ArtifactKind("audio").Valid() {
		t.Error("expected audio kind to be invalid")
	}
}
