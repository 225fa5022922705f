// Package camera provides a generic HTTP interface to a free-running camera
package camera

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/microfossil/particle-scanner/camera"
	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/microfossil/particle-scanner/imgrec"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/zone"
)

var contentTypes = map[string]string{
	imgrec.JPEG: "image/jpeg",
	imgrec.PNG:  "image/png",
	imgrec.FITS: "image/fits",
}

// HTTPCamera wraps a camera with HTTP
type HTTPCamera struct {
	Camera camera.Streamer

	// Stage, if not nil, supplies the position written into FITS headers
	Stage motion.PositionQueryer

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper with the route table pre-configured
func NewHTTPCamera(c camera.Streamer, stage motion.PositionQueryer) HTTPCamera {
	h := HTTPCamera{Camera: c, Stage: stage}
	rt := generichttp.RouteTable{}
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure"}] = GetExposure(c)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure"}] = generichttp.SetInt(c.SetExposure)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/gain"}] = generichttp.SetFloat(c.SetGain)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/frame"}] = GetFrame(c, stage)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/metadata"}] = GetMetadata(c, stage)
	h.RouteTable = rt
	return h
}

// RT satisfies the HTTPer interface
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// GetExposure responds with the exposure setting, in microseconds, as json
// {"int": value}.  The latest frame may still be at the previous one.
func GetExposure(c camera.Streamer) http.HandlerFunc {
	return generichttp.GetInt(c.GetExposure)
}

// GetFrame returns the latest frame on a GET request.
//
// the image format may be specified in the fmt query parameter as jpg, png
// or fits; it defaults to jpg.  The exposure the frame was taken at is in
// the X-Exposure-Us header and the capture time in X-Frame-Taken.
func GetFrame(c camera.Streamer, stage motion.PositionQueryer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = imgrec.JPEG
		}
		ctype, ok := contentTypes[format]
		if !ok {
			http.Error(w, imgrec.ErrUnknownFormat.Error(), http.StatusBadRequest)
			return
		}
		f, ok := c.LatestImage()
		if !ok {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		var p zone.Point
		if stage != nil {
			p, _ = stage.Position()
		}
		// encode to a buffer so an encoding error can still be reported
		buf := &bytes.Buffer{}
		rec := imgrec.Recorder{Format: format}
		if err := rec.Encode(buf, f, p); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hdr := w.Header()
		hdr.Set("Content-Type", ctype)
		hdr.Set(camera.ExposureHeader, strconv.Itoa(f.Exposure))
		hdr.Set(camera.TakenHeader, f.Taken.Format(time.RFC3339Nano))
		if format == imgrec.FITS {
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
		}
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// Metadata is the frame metadata served by the scanner
type Metadata struct {
	Exposure int        `json:"exposure"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Position zone.Point `json:"position"`
}

// GetMetadata responds with the metadata of the latest frame
func GetMetadata(c camera.Streamer, stage motion.PositionQueryer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := c.LatestImage()
		if !ok {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		b := f.Image.Bounds()
		md := Metadata{Exposure: f.Exposure, Width: b.Dx(), Height: b.Dy()}
		if stage != nil {
			md.Position, _ = stage.Position()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(md)
	}
}
