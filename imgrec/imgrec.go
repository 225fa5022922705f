// Package imgrec saves camera frames to disk in the scan directory layout,
// ZoneNNN/XNNNNNN_YNNNNNN[/EXXXX]/XNNNNNN_YNNNNNN_ZNNNNNN.jpg, which the
// stacking tools and downstream software depend on.
package imgrec

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/microfossil/particle-scanner/camera"
	"github.com/microfossil/particle-scanner/zone"
	"github.com/pkg/errors"
)

// ErrUnknownFormat is returned for an image format other than jpg, png or fits
var ErrUnknownFormat = errors.New("unknown image format, expected jpg, png or fits")

// Formats the recorder can write
const (
	JPEG = "jpg"
	PNG  = "png"
	FITS = "fits"
)

// ZoneDirName is the directory name of the n-th zone, counting from 0
func ZoneDirName(n int) string {
	return fmt.Sprintf("Zone%03d", n)
}

// TileDirName is the directory name of the tile at stage position x, y
func TileDirName(x, y int) string {
	return fmt.Sprintf("X%06d_Y%06d", x, y)
}

// ExposureDirName is the sub-directory for one bracket exposure
func ExposureDirName(exposure int) string {
	return fmt.Sprintf("E%d", exposure)
}

// FrameName is the file name of a frame taken at p
func FrameName(p zone.Point, ext string) string {
	return fmt.Sprintf("X%06d_Y%06d_Z%06d.%s", p.X, p.Y, p.Z, ext)
}

// Recorder writes frames.  The zero value writes JPEGs at quality 90.
type Recorder struct {
	// Format is one of JPEG, PNG, FITS
	Format string

	// JPEGQuality is the quality of JPEG frames, 1-100
	JPEGQuality int
}

func (r Recorder) format() string {
	if r.Format == "" {
		return JPEG
	}
	return strings.ToLower(r.Format)
}

// Validate returns ErrUnknownFormat if r cannot write its format
func (r Recorder) Validate() error {
	switch r.format() {
	case JPEG, PNG, FITS:
		return nil
	}
	return errors.Wrap(ErrUnknownFormat, r.Format)
}

// Ext is the file extension of frames written by r
func (r Recorder) Ext() string {
	return r.format()
}

// WriteFrame writes f, taken at p, into dir and returns the file path
func (r Recorder) WriteFrame(dir string, p zone.Point, f camera.Frame) (string, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return "", err
	}
	fn := filepath.Join(dir, FrameName(p, r.Ext()))
	fid, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	err = r.Encode(fid, f, p)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", errors.Wrapf(err, "writing %s", fn)
	}
	return fn, nil
}

// Encode writes f to w in the recorder's format.  p is recorded in the
// header for formats that have one.
func (r Recorder) Encode(w io.Writer, f camera.Frame, p zone.Point) error {
	switch r.format() {
	case JPEG:
		q := r.JPEGQuality
		if q <= 0 {
			q = 90
		}
		return jpeg.Encode(w, f.Image, &jpeg.Options{Quality: q})
	case PNG:
		return png.Encode(w, f.Image)
	case FITS:
		return WriteFits(w, Cards(f, p), f.Image)
	default:
		return ErrUnknownFormat
	}
}

// Cards returns the FITS header cards describing a frame
func Cards(f camera.Frame, p zone.Point) []fitsio.Card {
	return []fitsio.Card{
		{Name: "EXPTIME", Value: float64(f.Exposure) / 1e6, Comment: "exposure time, seconds"},
		{Name: "STAGEX", Value: p.X, Comment: "stage X, um"},
		{Name: "STAGEY", Value: p.Y, Comment: "stage Y, um"},
		{Name: "STAGEZ", Value: p.Z, Comment: "stage Z, um"},
		{Name: "DATE-OBS", Value: f.Taken.UTC().Format(time.RFC3339Nano), Comment: "capture time"},
	}
}

// WriteFits streams a 16-bit luminance FITS image to w
func WriteFits(w io.Writer, metadata []fitsio.Card, img image.Image) error {
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{width, height})
	defer im.Close()
	if err = im.Header().Append(metadata...); err != nil {
		return err
	}

	ints := make([]int16, 0, width*height)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			ints = append(ints, int16(int32(g.Y)-32768))
		}
	}
	if err = im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}
