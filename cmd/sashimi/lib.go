package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/microfossil/particle-scanner/camera"
	"github.com/microfossil/particle-scanner/config"
	"github.com/microfossil/particle-scanner/generichttp"
	httpcamera "github.com/microfossil/particle-scanner/generichttp/camera"
	httpmotion "github.com/microfossil/particle-scanner/generichttp/motion"
	"github.com/microfossil/particle-scanner/generichttp/scan"
	"github.com/microfossil/particle-scanner/journal"
	"github.com/microfossil/particle-scanner/marlin"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/scanner"
	"github.com/microfossil/particle-scanner/server/middleware/locker"
	"github.com/microfossil/particle-scanner/stack"
)

// simVelocity is the travel speed of the simulated stage, microns per second
const simVelocity = 20000

// Rig is the hardware and the scanner driving it
type Rig struct {
	Stage   motion.Stage
	Camera  camera.Streamer
	Scanner *scanner.Scanner
	Journal *journal.Journal
}

// Close releases the rig's connections
func (r *Rig) Close() {
	if r.Journal != nil {
		r.Journal.Close()
	}
	if m, ok := r.Stage.(*marlin.Stage); ok {
		m.Close()
	}
}

// BuildRig opens the stage, camera, stacker and journal described by c
func BuildRig(c config.Config) (*Rig, error) {
	var stage motion.Stage
	if c.Serial.Mock {
		sim := motion.NewSim(simVelocity)
		sim.Limits = c.Limits
		stage = sim
	} else {
		m := marlin.New(c.Serial.Port, c.Serial.Baud)
		m.Limits = c.Limits
		if err := m.Open(); err != nil {
			return nil, err
		}
		stage = m
	}

	var cam camera.Streamer
	if c.Camera.Mock {
		cam = camera.NewSim(c.Camera.Width, c.Camera.Height, 1, stage)
	} else {
		cam = camera.NewRemote(c.Camera.Addr)
	}
	if err := cam.SetExposure(c.Camera.ExposureUs); err != nil {
		log.Printf("setting initial exposure %v\n", err)
	}
	if err := cam.SetGain(c.Camera.Gain); err != nil {
		log.Printf("setting initial gain %v\n", err)
	}

	rig := &Rig{Stage: stage, Camera: cam, Scanner: scanner.New(c, stage, cam)}
	stk, err := stack.New(c.Stacker.Kind, c.Stacker.Path, c.Stacker.Args, c.Stacker.DepthMap)
	if err != nil {
		rig.Close()
		return nil, err
	}
	rig.Scanner.Stacker = stk
	if c.Journal != "" {
		j, err := journal.Open(c.Journal)
		if err != nil {
			rig.Close()
			return nil, err
		}
		rig.Journal = j
		rig.Scanner.Journal = j
	}
	return rig, nil
}

// BuildMux mounts the stage, camera and scanner routes on one router.
// The router serves a special route, /endpoints, which returns every
// route as JSON.
func BuildMux(ctx context.Context, rig *Rig, st *config.Store) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	// the lock is held by the scanner for every run, halting stays allowed
	lock := locker.New("stop")

	mount := func(stem string, httper generichttp.HTTPer, mw ...func(http.Handler) http.Handler) {
		hndlS := generichttp.SubMuxSanitize(stem)
		supergraph[hndlS] = httper.RT().Endpoints()
		r := chi.NewRouter()
		r.Use(mw...)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}

	c := st.Get()
	stage := httpmotion.NewHTTPMotionController(rig.Stage)
	limiter := httpmotion.LimitMiddleware{Limits: c.Limits, Mov: rig.Stage}
	limiter.Inject(stage)
	locker.Inject(stage, lock)
	mount("stage", stage, limiter.Check, lock.Check)

	mount("camera", httpcamera.NewHTTPCamera(rig.Camera, rig.Stage), lock.Check)

	sc := scan.NewHTTPScanner(ctx, rig.Scanner, st, lock)
	if rig.Journal != nil {
		sc.Journal = rig.Journal
	}
	mount("scanner", sc)

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
