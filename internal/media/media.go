// Package media uploads message attachments before the message itself is
// sent to the remote store.
package media

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// ThumbnailSize bounds both thumbnail dimensions in pixels.
const ThumbnailSize = 320

// Upload is one attachment to store.
type Upload struct {
	ConversationID string
	SenderID       string
	FileName       string
	ContentType    string
	Data           []byte
}

// IsImage reports whether the upload should get a thumbnail.
func (u Upload) IsImage() bool {
	return strings.HasPrefix(u.ContentType, "image/")
}

// Result holds the public locations of an uploaded attachment.
type Result struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailURL,omitempty"`
}

// Uploader stores attachments and returns where they can be fetched.
type Uploader interface {
	Upload(ctx context.Context, u Upload) (Result, error)
}

// ObjectKey builds a collision-free storage key of the form
// <conversation>/<unix>_<uuid><ext>.
func ObjectKey(conversationID, fileName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("%s/%d_%s%s", conversationID, now.Unix(), uuid.New().String(), ext)
}

// Thumbnail decodes an image and returns a JPEG that fits within size x size.
func Thumbnail(data []byte, size int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}
	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("media: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
