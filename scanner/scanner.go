/*Package scanner drives the stage and camera through a multi-zone scan.

A run visits every configured zone in order.  Each zone is covered by a grid
of tiles, row by row from its front-left corner.  At every tile the stage
climbs through a focus bracket starting at a tilt-corrected height, and at
every layer one picture is taken per bracket exposure.  Finished tiles are
handed to a stack.Queue so that focus stacking overlaps with the scan.

	IDLE -> ZONE_HOMING -> TILE_MOVING -> FOCUS_BRACKETING -+-> TILE_MOVING
	                ^                                        |
	                +---------------- ZONE_DONE <------------+
	                                      |
	                                      v
	                                  RUN_DONE -> IDLE

A run is cancelled cooperatively.  Cancel sets a flag which is checked between
pictures and on every tick of a bounded wait.  A move in
flight is allowed to complete, so the stage is never left mid-move.

Waits on hardware are bounded.  When a wait times out the condition is logged
and the scan proceeds with whatever the hardware reports.
*/
package scanner

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/microfossil/particle-scanner/camera"
	"github.com/microfossil/particle-scanner/config"
	"github.com/microfossil/particle-scanner/imgrec"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/stack"
	"github.com/microfossil/particle-scanner/util"
	"github.com/microfossil/particle-scanner/zone"
)

const (
	// SummaryFileName is written at the root of every scan directory
	SummaryFileName = "summary.txt"

	// ErrorLogFileName collects stacking failures, at the root of the scan directory
	ErrorLogFileName = "error_logs.txt"

	// SingleDirName holds stacks taken outside of a run
	SingleDirName = "single"
)

var (
	// ErrNoZones is returned when a run is started with no zones configured
	ErrNoZones = errors.New("no zones configured")

	// ErrScanExists is returned when the scan directory exists and overwrite is off
	ErrScanExists = errors.New("scan directory already exists and overwrite is disabled")

	// ErrDiskFull is returned when the save disk has too little free space
	ErrDiskFull = errors.New("not enough free disk space")

	// ErrBusy is returned when a run or stack is requested while one is in progress
	ErrBusy = errors.New("scanner is busy")

	// ErrBadStack is returned when the stack step is not positive
	ErrBadStack = errors.New("stack step must be positive")
)

// State is the state of the scanner
type State int

const (
	// Idle is not scanning
	Idle State = iota

	// ZoneHoming is moving to the front-left corner of a zone
	ZoneHoming

	// TileMoving is moving to a tile
	TileMoving

	// FocusBracketing is taking the focus stack of a tile
	FocusBracketing

	// ZoneDone is between zones
	ZoneDone

	// RunDone is closing out a run
	RunDone
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case ZoneHoming:
		return "ZONE_HOMING"
	case TileMoving:
		return "TILE_MOVING"
	case FocusBracketing:
		return "FOCUS_BRACKETING"
	case ZoneDone:
		return "ZONE_DONE"
	case RunDone:
		return "RUN_DONE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText makes State print by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Progress is a snapshot of a run.  Indices are 1-based; zero means not started.
type Progress struct {
	State State `json:"state"`

	Zone  int `json:"zone"`
	Zones int `json:"zones"`

	Tile  int `json:"tile"`
	Tiles int `json:"tiles"`

	Layer  int `json:"layer"`
	Layers int `json:"layers"`

	Exposure  int `json:"exposure"`
	Exposures int `json:"exposures"`

	Pictures      int `json:"pictures"`
	TotalPictures int `json:"totalPictures"`

	Started time.Time `json:"started"`

	// ETA is the estimated time remaining, from the mean tile duration so far
	ETA time.Duration `json:"eta"`

	Cancelled bool `json:"cancelled"`
}

// ZoneReport describes how one zone of a run went
type ZoneReport struct {
	// Index is the zone's position in the configuration, counting from 0
	// like its directory name
	Index int

	Start    time.Time
	Duration time.Duration

	// Tiles, Exposures, Layers are the planned counts
	Tiles     int
	Exposures int
	Layers    int

	// Pictures is the number actually written
	Pictures int

	// Done is true if every tile was taken
	Done bool

	// Err is why the zone was skipped or aborted, if it was
	Err error
}

// Planned is the number of pictures the zone should have produced
func (z ZoneReport) Planned() int {
	return z.Tiles * z.Exposures * z.Layers
}

// Result summarizes a run
type Result struct {
	RunID string

	Dir string

	Started time.Time
	Ended   time.Time

	Zones []ZoneReport

	Pictures      int
	TotalPictures int

	// Interrupted is true if the run was cancelled or aborted before every
	// zone was done
	Interrupted bool

	// Stack is what the stack queue did during the run
	Stack stack.Stats
}

// Journal records runs.  *journal.Journal satisfies it.
type Journal interface {
	BeginRun(scanDir string, totalPictures int) (string, error)
	EndRun(id string, pictures int, interrupted bool) error
	RecordTile(runID string, zone int, dir string, pictures int) error
	RecordJob(runID string, r stack.Result) error
}

// Scanner runs scans.  It owns its configuration; the outside world updates it
// with SetConfig between runs and UpdatePendingZones during one.
type Scanner struct {
	Stage  motion.Stage
	Camera camera.Streamer

	// Stacker fuses tiles when AutoStack is on.  Nil disables stacking.
	Stacker stack.Stacker

	// Journal, if not nil, records every run
	Journal Journal

	// OnProgress, if not nil, is called from the scan goroutine on every
	// change of progress.  It must not block.
	OnProgress func(Progress)

	mu       sync.Mutex
	cfg      config.Config
	progress Progress
	queue    *stack.Queue
	runID    string

	// tile timing for the ETA
	tilesDone  int
	tilesTotal int
	tileTime   time.Duration

	running   atomic.Bool
	cancelled atomic.Bool
}

// New returns a scanner using a copy of cfg
func New(cfg config.Config, stage motion.Stage, cam camera.Streamer) *Scanner {
	return &Scanner{Stage: stage, Camera: cam, cfg: cfg.Clone()}
}

// Config returns a copy of the scanner's configuration
func (s *Scanner) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// SetConfig replaces the configuration.  It returns ErrBusy during a run.
func (s *Scanner) SetConfig(c config.Config) error {
	if s.running.Load() {
		return ErrBusy
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = c.Clone()
	return nil
}

// UpdatePendingZones replaces the zones the running scan has not reached yet.
// Zones already scanned or in progress are unaffected.  When idle it
// replaces every zone.
func (s *Scanner) UpdatePendingZones(zones []zone.Zone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		s.cfg.Scanner.Zones = append([]zone.Zone(nil), zones...)
		return
	}
	cur := s.progress.Zone // 1-based, so cur zones are fixed
	if cur > len(s.cfg.Scanner.Zones) {
		cur = len(s.cfg.Scanner.Zones)
	}
	out := append([]zone.Zone(nil), s.cfg.Scanner.Zones[:cur]...)
	if len(zones) > cur {
		out = append(out, zones[cur:]...)
	}
	s.cfg.Scanner.Zones = out
	s.progress.Zones = len(out)
}

// Running returns true during a run or stack
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// Cancel asks the run in progress to stop at the next escape check
func (s *Scanner) Cancel() {
	s.cancelled.Store(true)
}

// Progress returns a snapshot of the run
func (s *Scanner) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.progress
	p.ETA = s.eta()
	p.Cancelled = s.cancelled.Load()
	return p
}

// QueueStats returns the stack queue counters of the current or last run
func (s *Scanner) QueueStats() (stack.State, stack.Stats) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return stack.Idle, stack.Stats{}
	}
	return q.State(), q.Stats()
}

// eta is called with mu held
func (s *Scanner) eta() time.Duration {
	if s.tilesDone == 0 || s.tilesTotal <= s.tilesDone {
		return 0
	}
	per := s.tileTime / time.Duration(s.tilesDone)
	return per * time.Duration(s.tilesTotal-s.tilesDone)
}

func (s *Scanner) update(f func(p *Progress)) {
	s.mu.Lock()
	f(&s.progress)
	p := s.progress
	p.ETA = s.eta()
	p.Cancelled = s.cancelled.Load()
	s.mu.Unlock()
	if s.OnProgress != nil {
		s.OnProgress(p)
	}
}

func (s *Scanner) setState(st State) {
	s.update(func(p *Progress) { p.State = st })
}

// escape reports whether the run should stop
func (s *Scanner) escape(ctx context.Context) bool {
	return s.cancelled.Load() || ctx.Err() != nil
}

func (s *Scanner) tick() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.FramePeriod()
}

// zone returns the i'th zone, or false past the end
func (s *Scanner) zone(i int) (zone.Zone, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.cfg.Scanner.Zones) {
		return zone.Zone{}, false
	}
	return s.cfg.Scanner.Zones[i], true
}

// Layers is the number of focus layers in a stack
func Layers(c config.Config) int {
	if c.Scanner.StackStep <= 0 {
		return 0
	}
	return c.Scanner.StackHeight / c.Scanner.StackStep
}

// BracketExposures returns the exposures taken at every layer.  With zero
// or one configured exposure the camera's base exposure is used alone.
func BracketExposures(c config.Config) []int {
	if len(c.Scanner.Exposures) >= 2 {
		return append([]int(nil), c.Scanner.Exposures...)
	}
	if len(c.Scanner.Exposures) == 1 {
		return []int{c.Scanner.Exposures[0]}
	}
	return []int{c.Camera.ExposureUs}
}

// TotalPictures is the number of pictures a run of c takes if it finishes.
// Invalid zones contribute nothing.
func TotalPictures(c config.Config) int {
	per := Layers(c) * len(BracketExposures(c))
	total := 0
	for _, z := range c.Scanner.Zones {
		sx, sy, err := z.Steps(c.Pitch())
		if err != nil {
			continue
		}
		total += sx * sy * per
	}
	return total
}

// prepareDir creates the scan directory, refusing or clearing an existing one
func prepareDir(c config.Config) (string, error) {
	dir := c.ScanDir()
	if _, err := os.Stat(dir); err == nil {
		if !c.Overwrite {
			return "", errors.Wrap(ErrScanExists, dir)
		}
		if err := util.RemoveContents(dir); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		return "", err
	}
	free, err := util.FreeBytes(dir)
	if err != nil {
		log.Printf("could not check free space in %s %v\n", dir, err)
		return dir, nil
	}
	if free < c.Scanner.MinFreeBytes {
		return "", errors.Wrapf(ErrDiskFull, "%s free in %s, %s required",
			humanize.Bytes(free), dir, humanize.Bytes(c.Scanner.MinFreeBytes))
	}
	return dir, nil
}

// startQueue opens the error log and starts the stack queue, if stacking is on.
// The queue is nil when stacking is off.  The returned closer is never nil.
func (s *Scanner) startQueue(ctx context.Context, c config.Config, dir string) (*stack.Queue, func(interrupted bool), error) {
	noop := func(bool) {}
	if !c.Scanner.AutoStack || s.Stacker == nil {
		return nil, noop, nil
	}
	errLog, closer, err := stack.OpenErrorLog(filepath.Join(dir, ErrorLogFileName))
	if err != nil {
		return nil, noop, err
	}
	q := stack.NewQueue(s.Stacker, c.Scanner.RemoveRaw, errLog)
	q.OnResult = func(r stack.Result) {
		if s.Journal == nil {
			return
		}
		s.mu.Lock()
		id := s.runID
		s.mu.Unlock()
		if id == "" {
			return
		}
		if err := s.Journal.RecordJob(id, r); err != nil {
			log.Printf("journal: %v\n", err)
		}
	}
	if err := q.Start(ctx); err != nil {
		closer.Close()
		return nil, noop, err
	}
	s.mu.Lock()
	s.queue = q
	s.mu.Unlock()
	return q, func(interrupted bool) {
		if interrupted {
			q.Kill()
		} else if err := q.Close(); err != nil {
			log.Printf("closing stack queue %v\n", err)
		}
		closer.Close()
	}, nil
}

// MultiScan scans every zone.  Errors that prevent the run from starting are
// returned before the stage moves.  A zone with invalid geometry is logged and
// skipped.  A hardware or disk failure aborts the run; the summary is still
// written and the error returned.  A cancelled run is not an error; see
// Result.Interrupted.
func (s *Scanner) MultiScan(ctx context.Context) (Result, error) {
	if !s.begin() {
		return Result{}, ErrBusy
	}
	defer s.end()
	return s.multiScan(ctx)
}

// GoMultiScan starts MultiScan in the background and calls done, if not nil,
// with its outcome.  It returns ErrBusy at once if the scanner is busy.
func (s *Scanner) GoMultiScan(ctx context.Context, done func(Result, error)) error {
	if !s.begin() {
		return ErrBusy
	}
	go func() {
		r, err := s.multiScan(ctx)
		s.end()
		if done != nil {
			done(r, err)
		}
	}()
	return nil
}

// begin claims the scanner for one operation and clears any stale cancel
func (s *Scanner) begin() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.cancelled.Store(false)
	return true
}

func (s *Scanner) end() {
	s.running.Store(false)
}

func (s *Scanner) multiScan(ctx context.Context) (Result, error) {
	c := s.Config()
	if len(c.Scanner.Zones) == 0 {
		return Result{}, ErrNoZones
	}
	if c.Scanner.StackStep <= 0 {
		return Result{}, ErrBadStack
	}
	rec := imgrec.Recorder{Format: c.Scanner.ImageFormat, JPEGQuality: c.Scanner.JPEGQuality}
	if err := rec.Validate(); err != nil {
		return Result{}, err
	}
	dir, err := prepareDir(c)
	if err != nil {
		return Result{}, err
	}
	os.Remove(filepath.Join(dir, ErrorLogFileName))

	res := Result{Dir: dir, Started: time.Now(), TotalPictures: TotalPictures(c)}
	if s.Journal != nil {
		id, err := s.Journal.BeginRun(dir, res.TotalPictures)
		if err != nil {
			log.Printf("journal: %v\n", err)
		}
		res.RunID = id
	}
	q, stopQueue, err := s.startQueue(ctx, c, dir)
	if err != nil {
		return res, err
	}
	plan := stackPlan{rec: rec, queue: q, exposure: s.baseExposure(c)}

	s.mu.Lock()
	s.runID = res.RunID
	s.tilesDone, s.tileTime = 0, 0
	s.tilesTotal = tileCount(c)
	s.progress = Progress{
		Zones:         len(c.Scanner.Zones),
		TotalPictures: res.TotalPictures,
		Started:       res.Started}
	s.mu.Unlock()

	var runErr error
	for i := 0; ; i++ {
		z, ok := s.zone(i)
		if !ok || s.escape(ctx) {
			break
		}
		rep := ZoneReport{Index: i, Start: time.Now()}
		zdir := filepath.Join(dir, imgrec.ZoneDirName(i))
		err := s.scanZone(ctx, z, zdir, plan, &rep)
		rep.Duration = time.Since(rep.Start)
		res.Pictures += rep.Pictures
		res.Zones = append(res.Zones, rep)
		if err != nil {
			if isGeometry(err) {
				log.Printf("skipping %s: %v\n", imgrec.ZoneDirName(i), err)
				continue
			}
			log.Printf("aborting run in %s: %v\n", imgrec.ZoneDirName(i), err)
			runErr = err
			break
		}
	}

	s.setState(RunDone)
	res.Interrupted = runErr != nil || s.escape(ctx) || !allDone(res.Zones, s.Config())
	// stop cleanly: whatever move is in flight is allowed to finish
	s.waitStage(context.Background(), "stage to settle", config.Ms(c.Scanner.TileTimeout), false)
	stopQueue(res.Interrupted)
	_, res.Stack = s.QueueStats()
	res.Ended = time.Now()

	if err := WriteSummary(filepath.Join(dir, SummaryFileName), c, res); err != nil {
		log.Printf("writing scan summary %v\n", err)
	}
	if s.Journal != nil && res.RunID != "" {
		if err := s.Journal.EndRun(res.RunID, res.Pictures, res.Interrupted); err != nil {
			log.Printf("journal: %v\n", err)
		}
	}
	s.setState(Idle)
	return res, runErr
}

// allDone is true if there is a report for every zone and each one is done or skipped
func allDone(reps []ZoneReport, c config.Config) bool {
	if len(reps) < len(c.Scanner.Zones) {
		return false
	}
	for _, r := range reps {
		if !r.Done && !isGeometry(r.Err) {
			return false
		}
	}
	return true
}

func isGeometry(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	return cause == zone.ErrDegenerate || cause == zone.ErrInverted || cause == zone.ErrBadPitch
}

func tileCount(c config.Config) int {
	n := 0
	for _, z := range c.Scanner.Zones {
		sx, sy, err := z.Steps(c.Pitch())
		if err == nil {
			n += sx * sy
		}
	}
	return n
}

// scanZone takes every tile of z, writing under dir
func (s *Scanner) scanZone(ctx context.Context, z zone.Zone, dir string, plan stackPlan, rep *ZoneReport) error {
	c := s.Config()
	if err := z.Validate(); err != nil {
		rep.Err = err
		return err
	}
	tiles, err := z.Tiles(c.Pitch())
	if err != nil {
		rep.Err = err
		return err
	}
	rep.Tiles = len(tiles)
	rep.Exposures = len(BracketExposures(c))
	rep.Layers = Layers(c)
	if err := os.MkdirAll(dir, 0777); err != nil {
		rep.Err = err
		return err
	}

	s.update(func(p *Progress) {
		p.State = ZoneHoming
		p.Zone = rep.Index + 1
		p.Tile, p.Tiles = 0, len(tiles)
	})
	if err := s.Stage.GoTo(z.FL); err != nil {
		rep.Err = err
		return err
	}
	if s.waitStage(ctx, "zone front-left corner", config.Ms(c.Scanner.TileTimeout), true) == waitEscaped {
		return nil
	}

	for i, t := range tiles {
		if s.escape(ctx) {
			return nil
		}
		start := time.Now()
		s.update(func(p *Progress) {
			p.State = TileMoving
			p.Tile = i + 1
		})
		if err := s.Stage.GoTo(t.Target); err != nil {
			rep.Err = err
			return err
		}
		if s.waitStage(ctx, "tile", config.Ms(c.Scanner.TileTimeout), true) == waitEscaped {
			return nil
		}
		if s.escape(ctx) {
			return nil
		}

		startZ := z.StartZ(t.DX, t.DY, c.Scanner.ZMargin, c.Scanner.LowestZ)
		n, complete, err := s.takeStack(ctx, c, t.Target, startZ, dir, plan)
		rep.Pictures += n
		if err != nil {
			rep.Err = err
			return err
		}
		if !complete {
			return nil
		}
		s.mu.Lock()
		s.tilesDone++
		s.tileTime += time.Since(start)
		s.mu.Unlock()
		s.mu.Lock()
		id := s.runID
		s.mu.Unlock()
		if s.Journal != nil && id != "" {
			if err := s.Journal.RecordTile(id, rep.Index, filepath.Join(dir, imgrec.TileDirName(t.Target.X, t.Target.Y)), n); err != nil {
				log.Printf("journal: %v\n", err)
			}
		}
	}
	rep.Done = true
	s.setState(ZoneDone)
	return nil
}

// stackPlan is what every stack of one run or one take-stack-here shares
type stackPlan struct {
	rec imgrec.Recorder

	// queue receives complete stacks, nil when stacking is off
	queue *stack.Queue

	// exposure is restored after every stack
	exposure int
}

// baseExposure is the camera's exposure setting before any bracketing
func (s *Scanner) baseExposure(c config.Config) int {
	e, err := s.Camera.GetExposure()
	if err != nil {
		log.Printf("reading camera exposure, assuming %d %v\n", c.Camera.ExposureUs, err)
		return c.Camera.ExposureUs
	}
	return e
}

// takeStack takes the focus bracket of the tile at xy, starting at startZ.
// Frames go in dir/X_Y, or dir/X_Y/E<us> when bracketing exposures.  It
// returns the number of pictures written and whether the stack completed.
// A complete stack is enqueued for fusing, into dir/stacked.  The camera is
// left at plan.exposure however the stack ends.
func (s *Scanner) takeStack(ctx context.Context, c config.Config, xy zone.Point, startZ int, dir string, plan stackPlan) (int, bool, error) {
	exposures := BracketExposures(c)
	bracketing := len(exposures) >= 2
	layers := Layers(c)
	tileDir := filepath.Join(dir, imgrec.TileDirName(xy.X, xy.Y))
	if err := os.MkdirAll(tileDir, 0777); err != nil {
		return 0, false, err
	}

	here, err := s.Stage.Position()
	if err != nil {
		return 0, false, err
	}
	zOrig := here.Z
	defer func() {
		if err := s.Camera.SetExposure(plan.exposure); err != nil {
			log.Printf("restoring exposure %v\n", err)
		}
	}()

	s.update(func(p *Progress) {
		p.State = FocusBracketing
		p.Layer, p.Layers = 0, layers
		p.Exposure, p.Exposures = 0, len(exposures)
	})
	moveTimeout := config.Ms(c.Scanner.MoveTimeout)
	pos := zone.Point{X: xy.X, Y: xy.Y, Z: startZ}
	if err := s.Stage.GoTo(pos); err != nil {
		return 0, false, err
	}
	if s.waitStage(ctx, "stack start height", moveTimeout, true) == waitEscaped {
		return 0, false, nil
	}

	pictures := 0
	for l := 0; l < layers; l++ {
		for e, exp := range exposures {
			if s.escape(ctx) {
				return pictures, false, nil
			}
			s.update(func(p *Progress) {
				p.Layer = l + 1
				p.Exposure = e + 1
			})
			f, ok, escaped := s.frameAt(ctx, c, exp)
			if escaped {
				return pictures, false, nil
			}
			if !ok {
				log.Printf("no frame at exposure %d at %v, skipping\n", exp, pos)
				continue
			}
			frameDir := tileDir
			if bracketing {
				frameDir = filepath.Join(tileDir, imgrec.ExposureDirName(exp))
			}
			if _, err := plan.rec.WriteFrame(frameDir, pos, f); err != nil {
				return pictures, false, err
			}
			pictures++
			s.update(func(p *Progress) { p.Pictures++ })
		}
		if l == layers-1 {
			break
		}
		pos.Z += c.Scanner.StackStep
		if err := s.Stage.MoveRel(zone.Point{Z: c.Scanner.StackStep}); err != nil {
			return pictures, false, err
		}
		if s.waitStage(ctx, "focus layer", moveTimeout, true) == waitEscaped {
			return pictures, false, nil
		}
	}

	if err := s.Stage.GoTo(zone.Point{X: xy.X, Y: xy.Y, Z: zOrig}); err != nil {
		return pictures, true, err
	}
	s.waitStage(ctx, "return from stack", moveTimeout, false)

	if plan.queue != nil {
		job := stack.Job{RawDir: tileDir, OutputDir: filepath.Join(dir, stack.OutputDirName)}
		if err := plan.queue.Enqueue(job); err != nil {
			log.Printf("enqueueing %s %v\n", tileDir, err)
		}
	}
	return pictures, true, nil
}

// frameAt sets the exposure and waits for a frame taken at it after the
// request, so after the stage settled.  On timeout the latest frame is
// returned anyway, if there is one.
func (s *Scanner) frameAt(ctx context.Context, c config.Config, exposure int) (camera.Frame, bool, bool) {
	if err := s.Camera.SetExposure(exposure); err != nil {
		log.Printf("setting exposure %d %v\n", exposure, err)
	}
	return s.freshFrame(ctx, c, "exposure", time.Now(), func(f camera.Frame) bool {
		return f.Exposure == exposure
	})
}

// freshFrame waits for a frame captured no earlier than since for which want,
// if not nil, is true.  It returns the frame, whether there is one, and
// whether the wait was escaped.
func (s *Scanner) freshFrame(ctx context.Context, c config.Config, what string, since time.Time, want func(camera.Frame) bool) (camera.Frame, bool, bool) {
	var (
		f  camera.Frame
		ok bool
	)
	out := s.waitFor(ctx, what, config.Ms(c.Scanner.ExposureTimeout), s.tick(), true, func() bool {
		f, ok = s.Camera.LatestImage()
		return ok && !f.Taken.Before(since) && (want == nil || want(f))
	})
	if out == waitEscaped {
		return f, false, true
	}
	return f, ok, false
}

// TakeStackHere takes one focus stack at the stage's current position,
// starting at the current height, into the single directory of the save dir.
// It is not a run: there is no summary and no stacking queue.
func (s *Scanner) TakeStackHere(ctx context.Context) (string, int, error) {
	if !s.begin() {
		return "", 0, ErrBusy
	}
	defer s.end()
	return s.takeStackHere(ctx)
}

// GoTakeStackHere starts TakeStackHere in the background and calls done, if
// not nil, with its outcome.  It returns ErrBusy at once if the scanner is busy.
func (s *Scanner) GoTakeStackHere(ctx context.Context, done func(string, int, error)) error {
	if !s.begin() {
		return ErrBusy
	}
	go func() {
		dir, n, err := s.takeStackHere(ctx)
		s.end()
		if done != nil {
			done(dir, n, err)
		}
	}()
	return nil
}

func (s *Scanner) takeStackHere(ctx context.Context) (string, int, error) {
	c := s.Config()
	if c.Scanner.StackStep <= 0 {
		return "", 0, ErrBadStack
	}
	here, err := s.Stage.Position()
	if err != nil {
		return "", 0, err
	}
	dir := filepath.Join(c.SaveDir, SingleDirName)
	plan := stackPlan{
		rec:      imgrec.Recorder{Format: c.Scanner.ImageFormat, JPEGQuality: c.Scanner.JPEGQuality},
		exposure: s.baseExposure(c),
	}
	n, _, err := s.takeStack(ctx, c, here, here.Z, dir, plan)
	s.setState(Idle)
	return filepath.Join(dir, imgrec.TileDirName(here.X, here.Y)), n, err
}

// Follow keeps the scanner's configuration in step with a store.  During a
// run only the zones not reached yet are updated.
func (s *Scanner) Follow(st *config.Store) {
	st.Subscribe(func(c config.Config) {
		if err := s.SetConfig(c); err == ErrBusy {
			s.UpdatePendingZones(c.Scanner.Zones)
		}
	})
}
