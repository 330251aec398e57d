package vision

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode turns encoded image bytes into a bitmap. The format is sniffed from
// the content. EXIF orientation is applied, as OpenCV's imdecode does.
// maxPixels bounds width*height before the full decode; zero disables it.
func Decode(data []byte, maxPixels int) (image.Image, error) {
	if len(data) == 0 {
		return nil, DecodeError(nil, "empty image upload")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, DecodeError(err, "cannot decode image")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, DecodeError(nil, "invalid %s dimensions %dx%d", format, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, DecodeError(nil, "image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, DecodeError(err, "cannot decode %s image", format)
	}
	return img, nil
}
