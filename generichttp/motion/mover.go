package motion

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/zone"
)

// Mover is a stage that can move and report where it is
type Mover interface {
	motion.Mover
	motion.PositionQueryer
}

// HTTPMove adds routes for the mover to the route table
func HTTPMove(iface Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/pos"}] = GetPoint(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/pos"}] = SetPoint(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetPos(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = SetPos(iface)
}

// GetPoint returns an HTTP handler func that responds with the XYZ position
// as json {"x": .., "y": .., "z": ..}
func GetPoint(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := m.Position()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.RespondJSON(w, p)
	}
}

// SetPoint returns an HTTP handler func that moves to, or by if the relative
// query parameter is true, an XYZ point
func SetPoint(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, rel, err := popAxisRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p := zone.Point{}
		err = json.NewDecoder(r.Body).Decode(&p)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rel {
			err = m.MoveRel(p)
		} else {
			err = m.GoTo(p)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetPos returns an HTTP handler func from a mover that gets the position of
// an axis, in microns
func GetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := m.Position()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		v, err := axisOf(&p, chi.URLParam(r, "axis"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: float64(*v)}
		hp.EncodeAndRespond(w, r)
	}
}

func parseRelative(r *http.Request) (bool, error) {
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		relative = "false"
	}
	return strconv.ParseBool(relative)
}

func popAxisRelative(r *http.Request) (string, bool, error) {
	b, err := parseRelative(r)
	return chi.URLParam(r, "axis"), b, err
}

// SetPos returns an HTTP handler func from a mover that triggers an absolute or
// relative move on an axis based on the relative query parameter
func SetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, rel, err := popAxisRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var p zone.Point
		if !rel {
			if p, err = m.Position(); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		v, err := axisOf(&p, axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		*v = int(f.F64)
		if rel {
			err = m.MoveRel(p)
		} else {
			err = m.GoTo(p)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
