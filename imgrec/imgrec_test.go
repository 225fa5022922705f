package imgrec_test

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/microfossil/particle-scanner/camera"
	"github.com/microfossil/particle-scanner/imgrec"
	"github.com/microfossil/particle-scanner/zone"
)

func ExampleFrameName() {
	fmt.Println(imgrec.ZoneDirName(0))
	fmt.Println(imgrec.TileDirName(1700, 0))
	fmt.Println(imgrec.ExposureDirName(2000))
	fmt.Println(imgrec.FrameName(zone.Point{X: 1700, Y: 0, Z: 1450}, "jpg"))
	// Output:
	// Zone000
	// X001700_Y000000
	// E2000
	// X001700_Y000000_Z001450.jpg
}

func frame() camera.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	return camera.Frame{Image: img, Exposure: 2000, Taken: time.Now()}
}

func TestWriteFrameJPEG(t *testing.T) {
	dir := t.TempDir()
	fn, err := imgrec.Recorder{}.WriteFrame(dir, zone.Point{X: 1, Y: 2, Z: 3}, frame())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(fn) != "X000001_Y000002_Z000003.jpg" {
		t.Errorf("unexpected file name %s", fn)
	}
	fid, _ := os.Open(fn)
	defer fid.Close()
	img, err := jpeg.Decode(fid)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 16 {
		t.Errorf("expected width 16, got %d", img.Bounds().Dx())
	}
}

func TestWriteFrameUnknownFormat(t *testing.T) {
	_, err := imgrec.Recorder{Format: "bmp"}.WriteFrame(t.TempDir(), zone.Point{}, frame())
	if err == nil {
		t.Error("expected an error for bmp")
	}
}

func TestFitsRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	img := image.NewGray16(image.Rect(0, 0, 4, 2))
	img.SetGray16(1, 0, color.Gray16{Y: 65535})
	f := camera.Frame{Image: img, Exposure: 1500}
	if err := imgrec.WriteFits(buf, imgrec.Cards(f, zone.Point{Z: 7}), img); err != nil {
		t.Fatal(err)
	}
	fits, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer fits.Close()
	hdr := fits.HDU(0).Header()
	if hdr.Get("STAGEZ") == nil {
		t.Error("expected STAGEZ card in header")
	}
	if axes := hdr.Axes(); len(axes) != 2 || axes[0] != 4 || axes[1] != 2 {
		t.Errorf("expected axes [4 2], got %v", axes)
	}
}
