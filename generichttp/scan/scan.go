// Package scan provides an HTTP interface to the scanner: runs, zones, the
// stack queue and the run journal
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"go/types"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.com/microfossil/particle-scanner/config"
	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/microfossil/particle-scanner/journal"
	"github.com/microfossil/particle-scanner/scanner"
	"github.com/microfossil/particle-scanner/server/middleware/locker"
	"github.com/microfossil/particle-scanner/stack"
	"github.com/microfossil/particle-scanner/zone"
)

// RunLister reads back the run journal.  *journal.Journal satisfies it.
type RunLister interface {
	Runs(limit int) ([]journal.Run, error)
	Tiles(runID string) ([]journal.Tile, error)
	Jobs(runID string) ([]journal.Job, error)
}

// ZoneView is the JSON form of a scanner.ZoneReport
type ZoneView struct {
	Index     int       `json:"index"`
	Start     time.Time `json:"start"`
	Duration  string    `json:"duration"`
	Tiles     int       `json:"tiles"`
	Exposures int       `json:"exposures"`
	Layers    int       `json:"layers"`
	Pictures  int       `json:"pictures"`
	Done      bool      `json:"done"`
	Err       string    `json:"error,omitempty"`
}

// RunView is the JSON form of a scanner.Result
type RunView struct {
	RunID         string      `json:"runId,omitempty"`
	Dir           string      `json:"dir"`
	Started       time.Time   `json:"started"`
	Ended         time.Time   `json:"ended"`
	Zones         []ZoneView  `json:"zones"`
	Pictures      int         `json:"pictures"`
	TotalPictures int         `json:"totalPictures"`
	Interrupted   bool        `json:"interrupted"`
	Stack         stack.Stats `json:"stack"`
	Err           string      `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewRunView converts a run's outcome for JSON
func NewRunView(r scanner.Result, err error) RunView {
	v := RunView{
		RunID: r.RunID, Dir: r.Dir,
		Started: r.Started, Ended: r.Ended,
		Pictures: r.Pictures, TotalPictures: r.TotalPictures,
		Interrupted: r.Interrupted,
		Stack:       r.Stack,
		Err:         errString(err)}
	for _, z := range r.Zones {
		v.Zones = append(v.Zones, ZoneView{
			Index: z.Index, Start: z.Start, Duration: z.Duration.Round(time.Second).String(),
			Tiles: z.Tiles, Exposures: z.Exposures, Layers: z.Layers,
			Pictures: z.Pictures, Done: z.Done, Err: errString(z.Err)})
	}
	return v
}

// HTTPScanner wraps a scanner and its configuration store with HTTP
type HTTPScanner struct {
	Scanner *scanner.Scanner
	Store   *config.Store

	// Journal, if not nil, serves the run history
	Journal RunLister

	// Lock, if not nil, is held for the duration of every run so that manual
	// moves are refused
	Lock *locker.Locker

	// Ctx bounds every background operation
	Ctx context.Context

	RouteTable generichttp.RouteTable

	mu    sync.Mutex
	last  *RunView
	floor *scanner.Floor
	stack string
	err   string
}

// NewHTTPScanner returns a new HTTP wrapper with the route table pre-configured
func NewHTTPScanner(ctx context.Context, s *scanner.Scanner, st *config.Store, lock *locker.Locker) *HTTPScanner {
	h := &HTTPScanner{Scanner: s, Store: st, Lock: lock, Ctx: ctx}
	rt := generichttp.RouteTable{}
	get := func(path string, f http.HandlerFunc) {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: path}] = f
	}
	post := func(path string, f http.HandlerFunc) {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = f
	}
	post("/scan/start", h.Start)
	post("/scan/cancel", h.Cancel)
	get("/scan/progress", h.Progress)
	get("/scan/result", h.Result)
	get("/scan/error", h.Error)
	get("/scan/busy", generichttp.GetBool(func() (bool, error) { return s.Running(), nil }))
	get("/queue", h.Queue)
	post("/stack-here", h.StackHere)
	get("/stack-here", h.StackHereResult)
	post("/findfloor", h.FindFloor)
	get("/findfloor", h.FloorResult)

	get("/config", h.Config)
	get("/zones", h.Zones)
	post("/zones", h.AddZone)
	rt[generichttp.MethodPath{Method: http.MethodDelete, Path: "/zones"}] = h.DeleteAllZones
	rt[generichttp.MethodPath{Method: http.MethodDelete, Path: "/zones/{idx}"}] = h.DeleteZone
	post("/zones/{idx}/corner/{corner}", h.SetCorner)
	post("/zones/{idx}/blz", h.SetBackLeftZ)
	post("/zones/{idx}/goto/{corner}", h.GoToCorner)
	post("/stack/height", h.setRounded(st.SetStackHeight))
	post("/stack/step", h.setRounded(st.SetStackStep))
	post("/exposures", h.SetExposures)
	get("/exposures", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, st.Get().Scanner.Exposures)
	})
	post("/lowestz", generichttp.SetBool(st.SetLowestZ))
	get("/lowestz", generichttp.GetBool(func() (bool, error) { return st.Get().Scanner.LowestZ, nil }))
	get("/runs", h.Runs)
	get("/runs/{id}", h.Run)
	h.RouteTable = rt
	return h
}

// RT satisfies the HTTPer interface
func (h *HTTPScanner) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h *HTTPScanner) lock() {
	if h.Lock != nil {
		h.Lock.Lock()
	}
}

func (h *HTTPScanner) unlock() {
	if h.Lock != nil {
		h.Lock.Unlock()
	}
}

func (h *HTTPScanner) setErr(err error) {
	h.mu.Lock()
	h.err = errString(err)
	h.mu.Unlock()
}

func busy(w http.ResponseWriter, err error) bool {
	if err == scanner.ErrBusy {
		http.Error(w, err.Error(), http.StatusConflict)
		return true
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return true
	}
	return false
}

// Start starts a run in the background.  It responds 202 once the run has
// been started and 409 if the scanner is busy.
func (h *HTTPScanner) Start(w http.ResponseWriter, r *http.Request) {
	h.lock()
	err := h.Scanner.GoMultiScan(h.Ctx, func(res scanner.Result, err error) {
		h.unlock()
		if err != nil {
			log.Printf("scan failed %v\n", err)
		}
		v := NewRunView(res, err)
		h.mu.Lock()
		h.last = &v
		h.mu.Unlock()
		h.setErr(err)
	})
	if err != nil {
		if err != scanner.ErrBusy {
			h.unlock()
		}
		busy(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Cancel asks the run in progress to stop
func (h *HTTPScanner) Cancel(w http.ResponseWriter, r *http.Request) {
	h.Scanner.Cancel()
	w.WriteHeader(http.StatusOK)
}

// Progress responds with the progress of the run
func (h *HTTPScanner) Progress(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Scanner.Progress())
}

// Result responds with the outcome of the last run, or 404 before the first
func (h *HTTPScanner) Result(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last == nil {
		http.Error(w, "no run has finished yet", http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, last)
}

// Error responds with the error of the last background operation as
// {"str": msg}, empty if it succeeded
func (h *HTTPScanner) Error(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	msg := h.err
	h.mu.Unlock()
	hp := generichttp.HumanPayload{T: types.String, String: msg}
	hp.EncodeAndRespond(w, r)
}

// Queue responds with the stack queue state and counters
func (h *HTTPScanner) Queue(w http.ResponseWriter, r *http.Request) {
	st, stats := h.Scanner.QueueStats()
	generichttp.RespondJSON(w, struct {
		State string      `json:"state"`
		Stats stack.Stats `json:"stats"`
	}{st.String(), stats})
}

// StackHere takes one focus stack at the current position in the background
func (h *HTTPScanner) StackHere(w http.ResponseWriter, r *http.Request) {
	h.lock()
	err := h.Scanner.GoTakeStackHere(h.Ctx, func(dir string, n int, err error) {
		h.unlock()
		log.Printf("took %d pictures into %s\n", n, dir)
		h.mu.Lock()
		h.stack = dir
		h.mu.Unlock()
		h.setErr(err)
	})
	if err != nil {
		if err != scanner.ErrBusy {
			h.unlock()
		}
		busy(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StackHereResult responds with the directory of the last single stack
func (h *HTTPScanner) StackHereResult(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	dir := h.stack
	h.mu.Unlock()
	hp := generichttp.HumanPayload{T: types.String, String: dir}
	hp.EncodeAndRespond(w, r)
}

// FindFloor starts a focus sweep in the background
func (h *HTTPScanner) FindFloor(w http.ResponseWriter, r *http.Request) {
	h.lock()
	err := h.Scanner.GoFindFloor(h.Ctx, func(fl scanner.Floor, err error) {
		h.unlock()
		h.mu.Lock()
		h.floor = &fl
		h.mu.Unlock()
		h.setErr(err)
	})
	if err != nil {
		if err != scanner.ErrBusy {
			h.unlock()
		}
		busy(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// FloorResult responds with the last focus sweep, or 404 before the first
func (h *HTTPScanner) FloorResult(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	fl := h.floor
	h.mu.Unlock()
	if fl == nil {
		http.Error(w, "no sweep has finished yet", http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, fl)
}

// Config responds with the whole configuration document
func (h *HTTPScanner) Config(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Store.Get())
}

// Zones responds with the zones
func (h *HTTPScanner) Zones(w http.ResponseWriter, r *http.Request) {
	zs := h.Store.Get().Scanner.Zones
	if zs == nil {
		zs = []zone.Zone{}
	}
	generichttp.RespondJSON(w, zs)
}

// AddZone appends a zone and responds with its index as {"int": i}.  With
// an empty body the default zone is added.
func (h *HTTPScanner) AddZone(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var idx int
	if len(strings.TrimSpace(string(body))) == 0 {
		idx, err = h.Store.AddZone()
	} else {
		var z zone.Zone
		if err = json.Unmarshal(body, &z); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		idx, err = h.Store.PutZone(z)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hp := generichttp.HumanPayload{T: types.Int, Int: idx}
	hp.EncodeAndRespond(w, r)
}

// DeleteAllZones removes every zone
func (h *HTTPScanner) DeleteAllZones(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteAllZones(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func zoneIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return i, true
}

func storeErr(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	code := http.StatusBadRequest
	if errors.Is(err, config.ErrNoSuchZone) {
		code = http.StatusNotFound
	}
	http.Error(w, err.Error(), code)
}

// DeleteZone removes one zone
func (h *HTTPScanner) DeleteZone(w http.ResponseWriter, r *http.Request) {
	i, ok := zoneIndex(w, r)
	if !ok {
		return
	}
	storeErr(w, h.Store.DeleteZone(i))
}

// here is the stage position, used when a corner is set without a body
func (h *HTTPScanner) here(body []byte) (zone.Point, error) {
	if len(strings.TrimSpace(string(body))) != 0 {
		var p zone.Point
		err := json.Unmarshal(body, &p)
		return p, err
	}
	return h.Scanner.Stage.Position()
}

// SetCorner sets the fl or br corner of a zone to the point in the body, or
// to the current stage position if the body is empty
func (h *HTTPScanner) SetCorner(w http.ResponseWriter, r *http.Request) {
	i, ok := zoneIndex(w, r)
	if !ok {
		return
	}
	var which config.Corner
	switch strings.ToLower(chi.URLParam(r, "corner")) {
	case "fl":
		which = config.FrontLeft
	case "br":
		which = config.BackRight
	default:
		http.Error(w, "corner must be fl or br", http.StatusNotFound)
		return
	}
	body, _ := io.ReadAll(r.Body)
	r.Body.Close()
	p, err := h.here(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	storeErr(w, h.Store.SetCorner(i, which, p))
}

// GoToCorner moves the stage to the fl, br, bl or fr corner of a zone.
// It is refused while a scan is running.
func (h *HTTPScanner) GoToCorner(w http.ResponseWriter, r *http.Request) {
	i, ok := zoneIndex(w, r)
	if !ok {
		return
	}
	if h.Scanner.Running() {
		http.Error(w, scanner.ErrBusy.Error(), http.StatusConflict)
		return
	}
	zones := h.Store.Get().Scanner.Zones
	if i < 0 || i >= len(zones) {
		http.Error(w, config.ErrNoSuchZone.Error(), http.StatusNotFound)
		return
	}
	p, err := zones[i].Corner(chi.URLParam(r, "corner"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := h.Scanner.Stage.GoTo(p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, p)
}

// SetBackLeftZ sets the back-left height of a zone to {"int": z}, or to the
// current stage height if the body is empty
func (h *HTTPScanner) SetBackLeftZ(w http.ResponseWriter, r *http.Request) {
	i, ok := zoneIndex(w, r)
	if !ok {
		return
	}
	body, _ := io.ReadAll(r.Body)
	r.Body.Close()
	var blz int
	if len(strings.TrimSpace(string(body))) == 0 {
		p, err := h.Scanner.Stage.Position()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		blz = p.Z
	} else {
		it := generichttp.IntT{}
		if err := json.Unmarshal(body, &it); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		blz = it.Int
	}
	storeErr(w, h.Store.SetBackLeftZ(i, blz))
}

// setRounded wraps a setter which adjusts its input, responding with the
// value actually used
func (h *HTTPScanner) setRounded(set func(int) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it := generichttp.IntT{}
		err := json.NewDecoder(r.Body).Decode(&it)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		used, err := set(it.Int)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Int, Int: used}
		hp.EncodeAndRespond(w, r)
	}
}

// SetExposures sets the bracket exposures from a JSON array of microseconds
func (h *HTTPScanner) SetExposures(w http.ResponseWriter, r *http.Request) {
	var us []int
	err := json.NewDecoder(r.Body).Decode(&us)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	storeErr(w, h.Store.SetExposures(us))
}

// Runs responds with the most recent runs, up to the limit query parameter
// (default 20)
func (h *HTTPScanner) Runs(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		http.Error(w, "the journal is disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit = l
	}
	runs, err := h.Journal.Runs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, runs)
}

// Run responds with the tiles and stack jobs of one run
func (h *HTTPScanner) Run(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		http.Error(w, "the journal is disabled", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	tiles, err := h.Journal.Tiles(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jobs, err := h.Journal.Jobs(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, struct {
		Tiles []journal.Tile `json:"tiles"`
		Jobs  []journal.Job  `json:"jobs"`
	}{tiles, jobs})
}
