package pipeline

import (
	"bytes"
	"fmt"
	"image"

	// Register the decoders the upload endpoint accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/voicetable/table-service/internal/core"
)

// maxImagePixels caps the decoded size so a tiny compressed upload cannot
// expand into gigabytes of pixel data.
const maxImagePixels = 64 << 20

const (
	errFmtEmptyImage = "%w: image data is empty"
	errFmtBadImage   = "%w: image could not be decoded: %v"
	errFmtHugeImage  = "%w: image dimensions %dx%d exceed the pixel limit"
)

// validateImage fully decodes the payload before anything is sent upstream.
// It returns the detected format name ("png", "jpeg", "gif") for use in the
// data URL handed to the vision model.
func validateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf(errFmtEmptyImage, core.ErrInvalidInput)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf(errFmtBadImage, core.ErrInvalidInput, err)
	}

	if cfg.Width*cfg.Height > maxImagePixels {
		return "", fmt.Errorf(errFmtHugeImage, core.ErrInvalidInput, cfg.Width, cfg.Height)
	}

	_, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf(errFmtBadImage, core.ErrInvalidInput, err)
	}

	return format, nil
}
