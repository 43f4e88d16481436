package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"time"

	pigo "github.com/esimov/pigo/core"
)

// CascadeDetector detects the largest face with a pigo binary cascade, then
// localizes pupils inside it. Eye candidates are merged by rectangle union
// before the two leftmost survivors become left/right eyes; both eyes are
// reported only when exactly two candidates remain after merging.
type CascadeDetector struct {
	faceCascadePath string
	eyeCascadePath  string
	minQuality      float32

	classifier  *pigo.Pigo
	puploc      *pigo.PuplocCascade
	initialized bool
}

// NewCascadeDetector creates a detector from pigo facefinder and puploc
// cascade files. minQuality is the cascade quality cutoff (5.0 is a common
// default for frontal portraits).
func NewCascadeDetector(faceCascadePath, eyeCascadePath string, minQuality float32) *CascadeDetector {
	return &CascadeDetector{
		faceCascadePath: faceCascadePath,
		eyeCascadePath:  eyeCascadePath,
		minQuality:      minQuality,
	}
}

func (d *CascadeDetector) Model() string {
	return "pigo-cascade"
}

// Local reports true; the unpacked cascades live in process memory, though
// they are small enough that Release only drops the references.
func (d *CascadeDetector) Local() bool {
	return true
}

func (d *CascadeDetector) Available() bool {
	if d.initialized {
		return true
	}
	_, err := os.Stat(d.faceCascadePath)
	return err == nil
}

func (d *CascadeDetector) Init() error {
	if d.initialized {
		return nil
	}

	faceData, err := os.ReadFile(d.faceCascadePath)
	if err != nil {
		return fmt.Errorf("failed to read face cascade: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(faceData)
	if err != nil {
		return fmt.Errorf("failed to unpack face cascade: %w", err)
	}
	d.classifier = classifier

	if d.eyeCascadePath != "" {
		eyeData, err := os.ReadFile(d.eyeCascadePath)
		if err != nil {
			return fmt.Errorf("failed to read eye cascade: %w", err)
		}
		plc, err := pigo.NewPuplocCascade().UnpackCascade(eyeData)
		if err != nil {
			return fmt.Errorf("failed to unpack eye cascade: %w", err)
		}
		d.puploc = plc
	}

	d.initialized = true
	return nil
}

func (d *CascadeDetector) Release(ctx context.Context) error {
	d.classifier = nil
	d.puploc = nil
	d.initialized = false
	return nil
}

func (d *CascadeDetector) Detect(ctx context.Context, imagePath string) (Landmarks, error) {
	start := time.Now()
	notDetected := func(reason string) Landmarks {
		return Landmarks{Model: d.Model(), Elapsed: time.Since(start), Reason: reason}
	}

	if !d.initialized {
		return notDetected("detector not initialized"), nil
	}
	if err := ctx.Err(); err != nil {
		return Landmarks{}, err
	}

	src, err := loadImage(imagePath)
	if err != nil {
		return notDetected(err.Error()), nil
	}

	nrgba := pigo.ImgToNRGBA(src)
	pixels := pigo.RgbToGrayscale(nrgba)
	cols := src.Bounds().Dx()
	rows := src.Bounds().Dy()

	imgParams := pigo.ImageParams{
		Pixels: pixels,
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}
	cParams := pigo.CascadeParams{
		MinSize:     minInt(cols, rows) / 10,
		MaxSize:     minInt(cols, rows),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: imgParams,
	}

	dets := d.classifier.RunCascade(cParams, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	// Largest face region wins.
	var best *pigo.Detection
	for i := range dets {
		if dets[i].Q < d.minQuality {
			continue
		}
		if best == nil || dets[i].Scale > best.Scale {
			best = &dets[i]
		}
	}
	if best == nil {
		return notDetected("no face above quality threshold"), nil
	}

	half := best.Scale / 2
	face := image.Rect(best.Col-half, best.Row-half, best.Col+half, best.Row+half)
	center := image.Pt(best.Col, best.Row)

	result := Landmarks{
		FaceDetected: true,
		Face:         &face,
		Center:       &center,
		Confidence:   float64(best.Q) / 10.0,
		Model:        d.Model(),
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	if d.puploc != nil {
		left, right := d.detectEyes(imgParams, *best, face)
		result.LeftEye = left
		result.RightEye = right
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// detectEyes runs the pupil localizer at seed points inside the face
// region, merges overlapping candidate regions and keeps the result only
// when exactly two eyes survive.
func (d *CascadeDetector) detectEyes(imgParams pigo.ImageParams, face pigo.Detection, faceRect image.Rectangle) (left, right *image.Point) {
	scale := float32(face.Scale)

	// Seed both eye sockets plus slightly lower fallbacks; the localizer
	// drifts to the true pupil from any seed close enough.
	seeds := []struct{ dRow, dCol float32 }{
		{-0.075, -0.175},
		{-0.075, 0.175},
		{-0.04, -0.175},
		{-0.04, 0.175},
	}

	var candidates []image.Rectangle
	for _, s := range seeds {
		seed := pigo.Puploc{
			Row:      face.Row + int(s.dRow*scale),
			Col:      face.Col + int(s.dCol*scale),
			Scale:    scale * 0.25,
			Perturbs: 50,
		}
		found := d.puploc.RunDetector(seed, imgParams, 0.0, false)
		if found == nil || found.Row <= 0 || found.Col <= 0 {
			continue
		}
		eyePt := image.Pt(found.Col, found.Row)
		if !eyePt.In(faceRect) {
			continue
		}
		r := int(found.Scale / 2)
		if r < 2 {
			r = 2
		}
		candidates = append(candidates, image.Rect(eyePt.X-r, eyePt.Y-r, eyePt.X+r, eyePt.Y+r))
	}

	merged := MergeOverlapping(candidates)
	if len(merged) != 2 {
		return nil, nil
	}

	l := rectCenter(merged[0])
	r := rectCenter(merged[1])
	return &l, &r
}

// MergeOverlapping merges intersecting rectangles into their unions until
// no two remaining rectangles intersect, then sorts them left to right.
func MergeOverlapping(rects []image.Rectangle) []image.Rectangle {
	merged := append([]image.Rectangle(nil), rects...)
	for {
		changed := false
		for i := 0; i < len(merged) && !changed; i++ {
			for j := i + 1; j < len(merged); j++ {
				if merged[i].Overlaps(merged[j]) {
					merged[i] = merged[i].Union(merged[j])
					merged = append(merged[:j], merged[j+1:]...)
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Min.X < merged[j].Min.X
	})
	return merged
}

func rectCenter(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
