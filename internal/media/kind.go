package media

import (
	"path/filepath"
	"strings"
)

// Kind classifies a media file by its container extension.
type Kind string

const (
	KindVideo   Kind = "video"
	KindImage   Kind = "image"
	KindAudio   Kind = "audio"
	KindUnknown Kind = "unknown"
)

var kindByExtension = map[string]Kind{
	".mp4":  KindVideo,
	".mkv":  KindVideo,
	".webm": KindVideo,
	".avi":  KindVideo,
	".mov":  KindVideo,
	".wmv":  KindVideo,
	".flv":  KindVideo,
	".mpeg": KindVideo,

	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".bmp":  KindImage,
	".webp": KindImage,
	".svg":  KindImage,
	".tiff": KindImage,

	".mp3":  KindAudio,
	".wav":  KindAudio,
	".ogg":  KindAudio,
	".m4a":  KindAudio,
	".flac": KindAudio,
	".aac":  KindAudio,
}

// DetectKind classifies path by extension, case-insensitively. Paths with
// no extension or an unrecognized one are KindUnknown.
func DetectKind(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := kindByExtension[ext]; ok {
		return kind
	}
	return KindUnknown
}

// Playable reports whether k is a kind the supply chain admits.
func (k Kind) Playable() bool {
	switch k {
	case KindVideo, KindImage, KindAudio:
		return true
	}
	return false
}

// ParseKind validates an external kind string.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindVideo:
		return KindVideo, true
	case KindImage:
		return KindImage, true
	case KindAudio:
		return KindAudio, true
	case KindUnknown:
		return KindUnknown, true
	}
	return KindUnknown, false
}
