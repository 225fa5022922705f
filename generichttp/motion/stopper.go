package motion

import (
	"net/http"

	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/microfossil/particle-scanner/motion"
)

// HTTPStop adds a route to halt the stage to the route table
func HTTPStop(iface motion.Halter, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}] = Stop(iface)
}

// Stop returns an HTTP handler func that halts the stage
func Stop(h motion.Halter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Halt(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPHome adds a route to home the stage to the route table
func HTTPHome(iface motion.Homer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/home"}] = Home(iface)
}

// Home returns an HTTP handler func that homes every axis
func Home(m motion.Homer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Home(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
