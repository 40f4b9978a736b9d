package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrEmpty       = errors.New("image payload is empty")
	ErrUnsupported = errors.New("payload is not an image")
)

// SourceImage is the uploaded product photo. The zero value is not usable;
// build one with NewSourceImage.
type SourceImage struct {
	data     []byte
	mimeType string
}

// NewSourceImage copies data and sniffs its MIME type. The declared type is
// only used when sniffing cannot tell the format apart.
func NewSourceImage(data []byte, declaredMime string) (SourceImage, error) {
	if len(data) == 0 {
		return SourceImage{}, ErrEmpty
	}

	mt := Sniff(data)
	if !strings.HasPrefix(mt, "image/") {
		declared := strings.ToLower(strings.TrimSpace(declaredMime))
		if !strings.HasPrefix(declared, "image/") {
			return SourceImage{}, fmt.Errorf("%w: detected %s", ErrUnsupported, mt)
		}
		mt = declared
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return SourceImage{data: buf, mimeType: mt}, nil
}

// Bytes returns a copy of the original payload.
func (s SourceImage) Bytes() []byte {
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

func (s SourceImage) MimeType() string { return s.mimeType }

func (s SourceImage) Size() int { return len(s.data) }

func (s SourceImage) IsZero() bool { return len(s.data) == 0 }

// Sniff returns the bare MIME type of data, without parameters.
func Sniff(data []byte) string {
	mt := mimetype.Detect(data).String()
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = mt[:idx]
	}
	return mt
}

// Extension maps an image MIME type to a file extension.
func Extension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
