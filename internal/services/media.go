package services

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"taxonomer/internal/models"
)

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type mediaType struct {
	kind     MediaKind
	mimeType string
}

var supportedMedia = map[string]mediaType{
	".jpg":    {MediaImage, "image/jpeg"},
	".jpeg":   {MediaImage, "image/jpeg"},
	".png":    {MediaImage, "image/png"},
	".x-flv":  {MediaVideo, "video/x-flv"},
	".mov":    {MediaVideo, "video/mov"},
	".mpeg":   {MediaVideo, "video/mpeg"},
	".mpegps": {MediaVideo, "video/mpegps"},
	".mpg":    {MediaVideo, "video/mpg"},
	".mp4":    {MediaVideo, "video/mp4"},
	".webm":   {MediaVideo, "video/webm"},
	".wmv":    {MediaVideo, "video/wmv"},
	".3gpp":   {MediaVideo, "video/3gpp"},
}

// DetectMedia maps a media URI to its kind and MIME type from the file extension.
// Query strings and fragments are ignored; matching is case-insensitive.
func DetectMedia(uri string) (MediaKind, string, error) {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	mt, ok := supportedMedia[ext]
	if !ok {
		if ext == "" {
			return "", "", fmt.Errorf("%w: %q has no file extension", models.ErrUnsupportedMediaType, uri)
		}
		return "", "", fmt.Errorf("%w: %q extension %s is not supported", models.ErrUnsupportedMediaType, uri, ext)
	}
	return mt.kind, mt.mimeType, nil
}

// describePrompt is the caption prefix the describer completes.
func describePrompt(kind MediaKind) string {
	if kind == MediaVideo {
		return "This video shows:"
	}
	return "This image shows:"
}
