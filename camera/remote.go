package camera

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg" // decoding of frames
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/pkg/errors"
)

const (
	// ExposureHeader is the response header carrying a frame's exposure
	ExposureHeader = "X-Exposure-Us"

	// TakenHeader is the response header carrying when a frame was
	// captured, in RFC 3339 with nanoseconds
	TakenHeader = "X-Frame-Taken"
)

// Remote is a camera served over HTTP.  It talks to the same camera routes
// the scanner serves, so one rig can drive another's camera.  Frame times
// come from the server's clock, which should be synchronized with ours.
type Remote struct {
	// URL is the root of the camera routes, e.g. http://rig:8000/camera
	URL string

	Client *http.Client
}

// NewRemote returns a new remote camera at url
func NewRemote(url string) *Remote {
	return &Remote{
		URL:    strings.TrimRight(url, "/"),
		Client: &http.Client{Timeout: 2 * time.Second}}
}

func (r *Remote) post(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	resp, err := r.Client.Post(r.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: %s", path, resp.Status)
	}
	return nil
}

// SetExposure sets the exposure in microseconds
func (r *Remote) SetExposure(us int) error {
	return errors.Wrap(r.post("/exposure", generichttp.IntT{Int: us}), "setting exposure")
}

// GetExposure returns the exposure setting in microseconds
func (r *Remote) GetExposure() (int, error) {
	resp, err := r.Client.Get(r.URL + "/exposure")
	if err != nil {
		return 0, errors.Wrap(err, "getting exposure")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET /exposure: %s", resp.Status)
	}
	it := generichttp.IntT{}
	err = json.NewDecoder(resp.Body).Decode(&it)
	return it.Int, errors.Wrap(err, "decoding exposure")
}

// SetGain sets the analog gain
func (r *Remote) SetGain(g float64) error {
	return errors.Wrap(r.post("/gain", generichttp.FloatT{F64: g}), "setting gain")
}

// LatestImage fetches the latest frame.  Transport errors are logged and
// reported as no frame, the scanner treats that as not ready yet.
func (r *Remote) LatestImage() (Frame, bool) {
	resp, err := r.Client.Get(r.URL + "/frame")
	if err != nil {
		log.Printf("camera: fetching frame %v\n", err)
		return Frame{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Frame{}, false
	}
	exposure, err := strconv.Atoi(resp.Header.Get(ExposureHeader))
	if err != nil {
		log.Printf("camera: frame has no exposure header %v\n", err)
		return Frame{}, false
	}
	// without a capture time the frame is never newer than a request
	var taken time.Time
	if h := resp.Header.Get(TakenHeader); h != "" {
		if taken, err = time.Parse(time.RFC3339Nano, h); err != nil {
			log.Printf("camera: bad frame time %q %v\n", h, err)
		}
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		log.Printf("camera: decoding frame %v\n", err)
		return Frame{}, false
	}
	return Frame{Image: img, Exposure: exposure, Taken: taken}, true
}
