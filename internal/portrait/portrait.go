// Package portrait derives a stable crop rectangle from whatever landmark
// evidence a detector produced and resizes it to the requested output size.
// Geometry degrades through four tiers: both eyes, one eye, face rectangle
// only, nothing detected.
package portrait

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"

	"github.com/mvelasco/photo-mapper/internal/detect"
)

// Crop multipliers per evidence tier, relative to the target dimensions.
// Better evidence allows a tighter crop.
const (
	bothEyesWidthMult  = 1.2
	bothEyesHeightMult = 1.5
	// Eye midpoint sits 30% from the crop top, leaving the face in the
	// upper ~70% of the frame.
	bothEyesEyeLine = 0.30

	oneEyeWidthMult  = 1.3
	oneEyeHeightMult = 1.6
	oneEyeEyeLine    = 0.25

	faceWidthMult  = 1.5
	faceHeightMult = 1.8
	// Face center sits 25% from the crop top, face in the upper ~50%.
	faceCenterLine = 0.25

	centerMult = 2.0
)

// Composer builds portrait crops for one fixed target size.
type Composer struct {
	targetW int
	targetH int
}

func NewComposer(targetW, targetH int) (*Composer, error) {
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", targetW, targetH)
	}
	return &Composer{targetW: targetW, targetH: targetH}, nil
}

// CropRect derives the crop rectangle for the given landmarks within a
// source image of srcW x srcH. The returned rectangle always lies inside
// the source bounds.
func (c *Composer) CropRect(lm detect.Landmarks, srcW, srcH int) image.Rectangle {
	var (
		cropW, cropH int
		anchorX      int
		anchorY      int
		anchorLine   float64
	)

	switch {
	case lm.FaceDetected && lm.BothEyes():
		cropW = int(float64(c.targetW) * bothEyesWidthMult)
		cropH = int(float64(c.targetH) * bothEyesHeightMult)
		anchorX = (lm.LeftEye.X + lm.RightEye.X) / 2
		anchorY = (lm.LeftEye.Y + lm.RightEye.Y) / 2
		anchorLine = bothEyesEyeLine
	case lm.FaceDetected && (lm.LeftEye != nil || lm.RightEye != nil):
		cropW = int(float64(c.targetW) * oneEyeWidthMult)
		cropH = int(float64(c.targetH) * oneEyeHeightMult)
		eye := lm.LeftEye
		if eye == nil {
			eye = lm.RightEye
		}
		anchorX = eye.X
		anchorY = eye.Y
		anchorLine = oneEyeEyeLine
	case lm.FaceDetected && lm.Face != nil:
		cropW = int(float64(c.targetW) * faceWidthMult)
		cropH = int(float64(c.targetH) * faceHeightMult)
		center := faceCenter(lm)
		anchorX = center.X
		anchorY = center.Y
		anchorLine = faceCenterLine
	default:
		cropW = int(float64(c.targetW) * centerMult)
		cropH = int(float64(c.targetH) * centerMult)
		anchorX = srcW / 2
		anchorY = srcH / 2
		anchorLine = 0.5
	}

	x := anchorX - cropW/2
	y := anchorY - int(float64(cropH)*anchorLine)
	return clampRect(image.Rect(x, y, x+cropW, y+cropH), srcW, srcH)
}

func faceCenter(lm detect.Landmarks) image.Point {
	if lm.Center != nil {
		return *lm.Center
	}
	f := *lm.Face
	return image.Pt((f.Min.X+f.Max.X)/2, (f.Min.Y+f.Max.Y)/2)
}

// clampRect fits r into a srcW x srcH image. The rectangle is shifted back
// inside the bounds first; if it is larger than the image it is shrunk,
// never expanded.
func clampRect(r image.Rectangle, srcW, srcH int) image.Rectangle {
	w := minInt(r.Dx(), srcW)
	h := minInt(r.Dy(), srcH)

	x := r.Min.X
	if x+w > srcW {
		x = srcW - w
	}
	if x < 0 {
		x = 0
	}

	y := r.Min.Y
	if y+h > srcH {
		y = srcH - h
	}
	if y < 0 {
		y = 0
	}

	return image.Rect(x, y, x+w, y+h)
}

// Compose crops the source around the landmarks and resizes the result to
// exactly the target dimensions.
func (c *Composer) Compose(src image.Image, lm detect.Landmarks) image.Image {
	bounds := src.Bounds()
	crop := c.CropRect(lm, bounds.Dx(), bounds.Dy()).Add(bounds.Min)

	dst := image.NewRGBA(image.Rect(0, 0, c.targetW, c.targetH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, xdraw.Over, nil)
	return dst
}

// Load decodes an image from disk.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Dimensions returns an image's size without decoding pixel data.
func Dimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Encode writes img in the named format (jpg, jpeg, png or bmp).
func Encode(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "png":
		return png.Encode(w, img)
	case "bmp":
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// Save encodes img to path, deriving the format from the file extension.
func Save(path string, img image.Image) error {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" {
		return fmt.Errorf("output path %s has no extension", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	if err := Encode(f, img, format); err != nil {
		return err
	}
	return f.Close()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
