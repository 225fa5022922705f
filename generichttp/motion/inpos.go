package motion

import (
	"go/types"
	"net/http"

	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/microfossil/particle-scanner/motion"
)

// GetInPosition returns an http.HandlerFunc for i.InPosition
func GetInPosition(i motion.InPositionQueryer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := i.InPosition()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: in}
		hp.EncodeAndRespond(w, r)
	}
}

// HTTPInPosition adds routes for InPosition to the route table
func HTTPInPosition(iface motion.InPositionQueryer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/inposition"}] = GetInPosition(iface)
}
