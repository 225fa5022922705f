package scanner

import (
	"context"
	"image"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/microfossil/particle-scanner/config"
	"github.com/microfossil/particle-scanner/zone"
)

// SharpnessStride is the pixel subsampling of Sharpness along each axis
const SharpnessStride = 4

// Sharpness returns the mean gradient magnitude of each of the R, G and B
// channels of img, sampled every SharpnessStride pixels
func Sharpness(img image.Image) [3]float64 {
	b := img.Bounds()
	w := (b.Dx() + SharpnessStride - 1) / SharpnessStride
	h := (b.Dy() + SharpnessStride - 1) / SharpnessStride
	var out [3]float64
	if w < 2 || h < 2 {
		return out
	}
	var planes [3][]float64
	for c := range planes {
		planes[c] = make([]float64, w*h)
	}
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			r, g, bl, _ := img.At(b.Min.X+i*SharpnessStride, b.Min.Y+j*SharpnessStride).RGBA()
			k := j*w + i
			planes[0][k] = float64(r >> 8)
			planes[1][k] = float64(g >> 8)
			planes[2][k] = float64(bl >> 8)
		}
	}
	mag := make([]float64, (w-1)*(h-1))
	for c, p := range planes {
		for j := 0; j < h-1; j++ {
			for i := 0; i < w-1; i++ {
				// x difference one row down, y difference one column right,
				// so both have the same shape
				dx := p[(j+1)*w+i+1] - p[(j+1)*w+i]
				dy := p[(j+1)*w+i+1] - p[j*w+i+1]
				mag[j*(w-1)+i] = math.Hypot(dx, dy)
			}
		}
		out[c] = stat.Mean(mag, nil)
	}
	return out
}

// Floor is the result of a focus sweep
type Floor struct {
	// Z is the sharpest height of each channel
	Z [3]int `json:"z"`

	// Heights are the heights sampled
	Heights []int `json:"heights"`

	// Scores are the sharpness per channel at each height
	Scores [][3]float64 `json:"scores"`
}

// Best is the sharpest height of the green channel, which has the most signal
// on a Bayer sensor
func (f Floor) Best() int {
	return f.Z[1]
}

// FindFloor sweeps Z upward at the current XY and reports the sharpest
// height per channel.  The stage returns to where it started.
func (s *Scanner) FindFloor(ctx context.Context) (Floor, error) {
	if !s.begin() {
		return Floor{}, ErrBusy
	}
	defer s.end()
	return s.findFloor(ctx)
}

// GoFindFloor starts FindFloor in the background and calls done, if not nil,
// with its outcome.  It returns ErrBusy at once if the scanner is busy.
func (s *Scanner) GoFindFloor(ctx context.Context, done func(Floor, error)) error {
	if !s.begin() {
		return ErrBusy
	}
	go func() {
		fl, err := s.findFloor(ctx)
		s.end()
		if done != nil {
			done(fl, err)
		}
	}()
	return nil
}

func (s *Scanner) findFloor(ctx context.Context) (Floor, error) {
	c := s.Config()
	ff := c.Scanner.FindFloor
	orig, err := s.Stage.Position()
	if err != nil {
		return Floor{}, err
	}
	move := config.Ms(c.Scanner.MoveTimeout)
	z := ff.Start
	if err := s.Stage.GoTo(zone.Point{X: orig.X, Y: orig.Y, Z: z}); err != nil {
		return Floor{}, err
	}
	s.waitStage(ctx, "find floor start", config.Ms(c.Scanner.TileTimeout), true)

	var fl Floor
	for i := 0; i < ff.Count; i++ {
		if s.escape(ctx) {
			break
		}
		f, ok, escaped := s.freshFrame(ctx, c, "frame at z", time.Now(), nil)
		if escaped {
			break
		}
		if !ok {
			log.Printf("no frame at z=%d, skipping\n", z)
		} else {
			fl.Heights = append(fl.Heights, z)
			fl.Scores = append(fl.Scores, Sharpness(f.Image))
		}
		z += ff.Step
		if err := s.Stage.MoveRel(zone.Point{Z: ff.Step}); err != nil {
			return fl, err
		}
		if s.waitStage(ctx, "find floor step", move, true) == waitEscaped {
			break
		}
	}

	if len(fl.Scores) > 0 {
		ch := make([]float64, len(fl.Scores))
		for k := range fl.Z {
			for i, sc := range fl.Scores {
				ch[i] = sc[k]
			}
			fl.Z[k] = fl.Heights[floats.MaxIdx(ch)]
		}
	}
	if err := s.Stage.GoTo(orig); err != nil {
		return fl, err
	}
	s.waitStage(ctx, "return from find floor", config.Ms(c.Scanner.TileTimeout), false)
	return fl, nil
}
