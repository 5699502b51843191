package storage

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Object layout inside the bucket:
//
//	tracks/{id}/audio.{ext}
//	tracks/{id}/characters/{uuid}.{ext}
//	tracks/{id}/stitched/{job}.mp4
//	renders/{provider}/{operation}.mp4

const fallbackContentType = "application/octet-stream"

// mediaTypes covers the uploads the service handles: source tracks,
// character references and rendered or stitched clips.
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// preferredExt maps a content type back to the extension objects are stored under.
var preferredExt = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mp4":   ".m4a",
	"audio/aac":   ".aac",
	"audio/flac":  ".flac",
	"audio/ogg":   ".ogg",
	"image/png":   ".png",
	"image/jpeg":  ".jpg",
	"image/jpg":   ".jpg",
	"image/webp":  ".webp",
	"image/gif":   ".gif",
	"video/mp4":   ".mp4",
	"video/webm":  ".webm",
}

// ContentTypeFor picks the stored content type of an object. A declared type
// wins unless it is empty or the generic octet-stream.
func ContentTypeFor(name, declared string) string {
	declared = strings.TrimSpace(strings.SplitN(declared, ";", 2)[0])
	if declared != "" && declared != fallbackContentType {
		return declared
	}
	if ct, ok := mediaTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return fallbackContentType
}

// ExtensionFor returns the extension used for objects of contentType.
func ExtensionFor(contentType, fallback string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := preferredExt[ct]; ok {
		return ext
	}
	return fallback
}

// TrackPath builds the storage path of a track asset: tracks/{id}/{parts...}
func TrackPath(trackID uuid.UUID, parts ...string) string {
	return path.Join(append([]string{"tracks", trackID.String()}, parts...)...)
}

// AudioPath is where a track's source audio lives. ext includes the dot.
func AudioPath(trackID uuid.UUID, ext string) string {
	if ext == "" {
		ext = ".mp3"
	}
	return TrackPath(trackID, "audio"+strings.ToLower(ext))
}

// CharacterPath names a fresh character reference image for a track.
func CharacterPath(trackID uuid.UUID, contentType string) string {
	return TrackPath(trackID, "characters", uuid.NewString()+ExtensionFor(contentType, ".jpg"))
}

// StitchedPath is where the worker writes a finished video.
func StitchedPath(trackID, jobID uuid.UUID) string {
	return TrackPath(trackID, "stitched", jobID.String()+".mp4")
}

// RenderPath is a stable location for a provider clip, so retrying a
// completed operation overwrites instead of leaving copies behind.
func RenderPath(provider, operation string) string {
	return path.Join("renders", objectName(provider), objectName(operation)+".mp4")
}

// objectName reduces s to characters that are safe in one path segment.
func objectName(s string) string {
	if i := strings.LastIndex(s, "/operations/"); i >= 0 {
		s = s[i+len("/operations/"):]
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
