package camera

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/disintegration/gift"
	"github.com/microfossil/particle-scanner/motion"
)

// ReferenceExposure is the exposure at which the simulated image has its
// nominal brightness
const ReferenceExposure = 5000

// Sim is a simulated camera looking at a field of randomly placed particles.
// The image is blurred in proportion to the distance between the stage Z and
// the focal plane and brightened or darkened with the exposure.  Like the
// real sensor it is mounted upside down, so frames are rotated 180 degrees.
type Sim struct {
	// Stage supplies the Z position used to compute defocus.  If nil the
	// camera is always in focus.
	Stage motion.PositionQueryer

	// FocusZ is the stage Z, in microns, at which the specimen is sharp
	FocusZ int

	// DepthOfField is the Z distance, in microns, per pixel of blur sigma
	DepthOfField int

	// Lag is how long a new exposure takes to show up in frames
	Lag time.Duration

	mu          sync.Mutex
	base        *image.NRGBA
	exposure    int
	requested   int
	requestedAt time.Time
	gain        float64
}

// NewSim returns a simulated camera producing w x h frames.  seed fixes the
// particle layout.
func NewSim(w, h int, seed int64, stage motion.PositionQueryer) *Sim {
	return &Sim{
		Stage:        stage,
		DepthOfField: 50,
		Lag:          60 * time.Millisecond,
		base:         particles(w, h, seed),
		exposure:     ReferenceExposure,
		requested:    ReferenceExposure,
		gain:         1}
}

func particles(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{20, 20, 25, 255}), image.Point{}, draw.Src)
	n := w * h / 400
	for i := 0; i < n; i++ {
		cx, cy := rng.Intn(w), rng.Intn(h)
		r := 2 + rng.Intn(6)
		c := color.NRGBA{
			uint8(120 + rng.Intn(136)),
			uint8(100 + rng.Intn(156)),
			uint8(80 + rng.Intn(176)),
			255}
		for y := cy - r; y <= cy+r; y++ {
			for x := cx - r; x <= cx+r; x++ {
				if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= r*r {
					img.SetNRGBA(x, y, c)
				}
			}
		}
	}
	return img
}

// SetExposure requests a new exposure.  It appears in frames after Lag.
func (s *Sim) SetExposure(us int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	s.requested = us
	s.requestedAt = time.Now()
	return nil
}

// GetExposure returns the last requested exposure
func (s *Sim) GetExposure() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested, nil
}

// SetGain sets the gain, which scales brightness like exposure does
func (s *Sim) SetGain(g float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = g
	return nil
}

// settle applies a requested exposure once the lag has passed; mu is held
func (s *Sim) settle() {
	if s.requested != s.exposure && time.Since(s.requestedAt) >= s.Lag {
		s.exposure = s.requested
	}
}

// Blur returns the blur sigma for the stage Z
func (s *Sim) Blur(z int) float32 {
	if s.DepthOfField <= 0 {
		return 0
	}
	d := z - s.FocusZ
	if d < 0 {
		d = -d
	}
	return float32(d) / float32(s.DepthOfField)
}

// LatestImage renders a frame for the current stage position and exposure
func (s *Sim) LatestImage() (Frame, bool) {
	s.mu.Lock()
	s.settle()
	exposure, gain := s.exposure, s.gain
	s.mu.Unlock()

	var sigma float32
	if s.Stage != nil {
		p, err := s.Stage.Position()
		if err != nil {
			return Frame{}, false
		}
		sigma = s.Blur(p.Z)
	}

	// brightness is logarithmic in exposure*gain, like the eye sees it
	pct := 50 * math.Log2(float64(exposure)*gain/ReferenceExposure)
	pct = math.Max(-100, math.Min(100, pct))

	g := gift.New()
	if sigma > 0.1 {
		g.Add(gift.GaussianBlur(sigma))
	}
	g.Add(gift.Brightness(float32(pct)), gift.Rotate180())
	dst := image.NewNRGBA(g.Bounds(s.base.Bounds()))
	g.Draw(dst, s.base)
	return Frame{Image: dst, Exposure: exposure, Taken: time.Now()}, true
}
