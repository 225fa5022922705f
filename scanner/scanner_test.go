package scanner_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/microfossil/particle-scanner/camera"
	"github.com/microfossil/particle-scanner/config"
	"github.com/microfossil/particle-scanner/journal"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/scanner"
	"github.com/microfossil/particle-scanner/stack"
	"github.com/microfossil/particle-scanner/zone"
)

func mustZone(t *testing.T, fl, br zone.Point) zone.Zone {
	t.Helper()
	z, err := zone.New(fl, br)
	if err != nil {
		t.Fatal(err)
	}
	return z
}

// testConfig is one 3x3 zone at a pitch of 1000, flat at Z=1000, with two
// focus layers per tile
func testConfig(t *testing.T) config.Config {
	c := config.Default()
	c.SaveDir = t.TempDir()
	c.Journal = ""
	c.Camera.FramePeriod = 1
	c.Optics = config.Optics{FieldOfViewX: 1000, FieldOfViewY: 1000}
	c.Scanner.Zones = []zone.Zone{
		mustZone(t, zone.Point{X: 0, Y: 0, Z: 1000}, zone.Point{X: 2000, Y: 2000, Z: 1000})}
	c.Scanner.StackHeight = 100
	c.Scanner.StackStep = 50
	c.Scanner.ZMargin = 200
	c.Scanner.AutoStack = false
	c.Scanner.ImageFormat = "png"
	c.Scanner.MoveTimeout = 50
	c.Scanner.TileTimeout = 50
	c.Scanner.ExposureTimeout = 50
	c.Scanner.MinFreeBytes = 0
	return c
}

// fakeStacker writes an empty output
var fakeStacker = stack.StackerFunc(func(ctx context.Context, dir, out string) (string, error) {
	fn := out + ".png"
	return fn, os.WriteFile(fn, nil, 0666)
})

func newScanner(c config.Config) (*scanner.Scanner, *motion.Sim) {
	stage := motion.NewSim(0)
	cam := camera.NewSim(32, 24, 1, stage)
	cam.Lag = 0
	cam.DepthOfField = 0
	s := scanner.New(c, stage, cam)
	s.Stacker = fakeStacker
	return s, stage
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

var tileDirs = []string{
	"X000000_Y000000", "X000000_Y001000", "X000000_Y002000",
	"X001000_Y000000", "X001000_Y001000", "X001000_Y002000",
	"X002000_Y000000", "X002000_Y001000", "X002000_Y002000",
}

func ExampleTotalPictures() {
	c := config.Default()
	c.Optics = config.Optics{FieldOfViewX: 1000, FieldOfViewY: 1000}
	z, _ := zone.New(zone.Point{Z: 1000}, zone.Point{X: 2000, Y: 2000, Z: 1000})
	c.Scanner.Zones = []zone.Zone{z}
	c.Scanner.StackHeight, c.Scanner.StackStep = 100, 50
	fmt.Println(scanner.TotalPictures(c))
	c.Scanner.Exposures = []int{1000, 2000}
	fmt.Println(scanner.TotalPictures(c))
	// Output:
	// 18
	// 36
}

func TestScanSingleExposure(t *testing.T) {
	c := testConfig(t)
	s, _ := newScanner(c)
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupted {
		t.Error("run reported interrupted")
	}
	if res.Pictures != 18 || res.TotalPictures != 18 {
		t.Errorf("expected 18 of 18 pictures, got %d of %d", res.Pictures, res.TotalPictures)
	}
	zdir := filepath.Join(c.ScanDir(), "Zone000")
	if diff := cmp.Diff(tileDirs, names(t, zdir)); diff != "" {
		t.Errorf("tile directories (-want +got):\n%s", diff)
	}
	// flat at 1000 with a 200 margin, two layers 50 apart
	want := []string{"X001000_Y002000_Z000800.png", "X001000_Y002000_Z000850.png"}
	if diff := cmp.Diff(want, names(t, filepath.Join(zdir, "X001000_Y002000"))); diff != "" {
		t.Errorf("frames (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(c.ScanDir(), scanner.SummaryFileName)); err != nil {
		t.Error(err)
	}
	if p := s.Progress(); p.State != scanner.Idle || p.Pictures != 18 {
		t.Errorf("unexpected progress after run %+v", p)
	}
}

func TestScanBracketing(t *testing.T) {
	c := testConfig(t)
	c.Scanner.Exposures = []int{1000, 2000}
	s, _ := newScanner(c)
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Pictures != 36 {
		t.Errorf("expected 36 pictures, got %d", res.Pictures)
	}
	tdir := filepath.Join(c.ScanDir(), "Zone000", "X000000_Y000000")
	if diff := cmp.Diff([]string{"E1000", "E2000"}, names(t, tdir)); diff != "" {
		t.Errorf("exposure directories (-want +got):\n%s", diff)
	}
	for _, e := range []string{"E1000", "E2000"} {
		if n := len(names(t, filepath.Join(tdir, e))); n != 2 {
			t.Errorf("expected 2 frames in %s, got %d", e, n)
		}
	}
}

func TestScanAutoStack(t *testing.T) {
	c := testConfig(t)
	c.Scanner.AutoStack = true
	c.Scanner.RemoveRaw = true
	s, _ := newScanner(c)
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Stack.Processed != 9 || res.Stack.Failed != 0 {
		t.Errorf("unexpected stack stats %+v", res.Stack)
	}
	zdir := filepath.Join(c.ScanDir(), "Zone000")
	if diff := cmp.Diff([]string{stack.OutputDirName}, names(t, zdir)); diff != "" {
		t.Errorf("raw tiles should be removed once stacked (-want +got):\n%s", diff)
	}
	if n := len(names(t, filepath.Join(zdir, stack.OutputDirName))); n != 9 {
		t.Errorf("expected 9 stacked images, got %d", n)
	}
}

func TestTiltCorrectedStartHeights(t *testing.T) {
	c := testConfig(t)
	z := mustZone(t, zone.Point{X: 0, Y: 0, Z: 1000}, zone.Point{X: 2000, Y: 2000, Z: 2000})
	c.Scanner.Zones = []zone.Zone{z}
	c.Scanner.StackHeight = 50
	s, _ := newScanner(c)
	if _, err := s.MultiScan(context.Background()); err != nil {
		t.Fatal(err)
	}
	tiles, _ := z.Tiles(c.Pitch())
	for _, tl := range tiles {
		dir := filepath.Join(c.ScanDir(), "Zone000", fmt.Sprintf("X%06d_Y%06d", tl.Target.X, tl.Target.Y))
		want := []string{fmt.Sprintf("X%06d_Y%06d_Z%06d.png", tl.Target.X, tl.Target.Y, z.TiltZ(tl.DX, tl.DY, 200))}
		if diff := cmp.Diff(want, names(t, dir)); diff != "" {
			t.Errorf("tile %d,%d (-want +got):\n%s", tl.XI, tl.YI, diff)
		}
	}
}

func TestExistingScanRefused(t *testing.T) {
	c := testConfig(t)
	if err := os.MkdirAll(c.ScanDir(), 0777); err != nil {
		t.Fatal(err)
	}
	s, stage := newScanner(c)
	_, err := s.MultiScan(context.Background())
	if !errors.Is(err, scanner.ErrScanExists) {
		t.Errorf("expected ErrScanExists, got %v", err)
	}
	if stage.Moves() != 0 {
		t.Error("stage moved before the scan was refused")
	}
}

func TestOverwriteClearsScan(t *testing.T) {
	c := testConfig(t)
	c.Overwrite = true
	stale := filepath.Join(c.ScanDir(), "stale.txt")
	os.MkdirAll(c.ScanDir(), 0777)
	os.WriteFile(stale, nil, 0666)
	s, _ := newScanner(c)
	if _, err := s.MultiScan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("old scan contents were kept")
	}
}

func TestNoZones(t *testing.T) {
	c := testConfig(t)
	c.Scanner.Zones = nil
	s, stage := newScanner(c)
	if _, err := s.MultiScan(context.Background()); !errors.Is(err, scanner.ErrNoZones) {
		t.Errorf("expected ErrNoZones, got %v", err)
	}
	if stage.Moves() != 0 {
		t.Error("stage moved")
	}
}

func TestDiskFull(t *testing.T) {
	c := testConfig(t)
	c.Scanner.MinFreeBytes = 1 << 62
	s, stage := newScanner(c)
	if _, err := s.MultiScan(context.Background()); !errors.Is(err, scanner.ErrDiskFull) {
		t.Errorf("expected ErrDiskFull, got %v", err)
	}
	if stage.Moves() != 0 {
		t.Error("stage moved")
	}
}

func TestInvalidZoneSkipped(t *testing.T) {
	c := testConfig(t)
	inverted := zone.Zone{FL: zone.Point{X: 2000, Y: 2000, Z: 1000}, BR: zone.Point{Z: 1000}}
	c.Scanner.Zones = append([]zone.Zone{inverted}, c.Scanner.Zones...)
	s, _ := newScanner(c)
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Zones) != 2 {
		t.Fatalf("expected 2 zone reports, got %d", len(res.Zones))
	}
	if !errors.Is(res.Zones[0].Err, zone.ErrInverted) {
		t.Errorf("expected the first zone to be skipped as inverted, got %v", res.Zones[0].Err)
	}
	if !res.Zones[1].Done || res.Pictures != 18 {
		t.Errorf("second zone should have been scanned, %+v", res.Zones[1])
	}
	if res.Interrupted {
		t.Error("a skipped zone does not interrupt the run")
	}
	if _, err := os.Stat(filepath.Join(c.ScanDir(), "Zone001", "X000000_Y000000")); err != nil {
		t.Error(err)
	}
}

func TestCancelDuringSecondZone(t *testing.T) {
	c := testConfig(t)
	c.Scanner.AutoStack = true
	second := mustZone(t, zone.Point{X: 10000, Y: 10000, Z: 1000}, zone.Point{X: 12000, Y: 12000, Z: 1000})
	c.Scanner.Zones = append(c.Scanner.Zones, second)
	s, _ := newScanner(c)
	// slower than the scan, so jobs are still queued when the run is cancelled
	s.Stacker = stack.StackerFunc(func(ctx context.Context, dir, out string) (string, error) {
		select {
		case <-time.After(40 * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return fakeStacker(ctx, dir, out)
	})
	s.OnProgress = func(p scanner.Progress) {
		if p.Zone == 2 && p.Pictures >= 22 {
			s.Cancel()
		}
	}
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Interrupted {
		t.Error("run not reported interrupted")
	}
	if len(res.Zones) != 2 || !res.Zones[0].Done || res.Zones[1].Done {
		t.Fatalf("unexpected zone reports %+v", res.Zones)
	}
	if res.Pictures != 22 {
		t.Errorf("expected the run to stop at 22 pictures, got %d", res.Pictures)
	}

	var tiles []string
	for _, n := range names(t, filepath.Join(c.ScanDir(), "Zone000")) {
		if n != stack.OutputDirName {
			tiles = append(tiles, n)
		}
	}
	if diff := cmp.Diff(tileDirs, tiles); diff != "" {
		t.Errorf("first zone tiles on disk (-want +got):\n%s", diff)
	}
	st := res.Stack
	if st.Processed+st.Failed+st.Dropped < len(tileDirs) {
		t.Errorf("every tile of the first zone should reach the queue, stats %+v", st)
	}
	if st.Dropped == 0 {
		t.Errorf("the queue should be killed, not drained, stats %+v", st)
	}

	b, err := os.ReadFile(filepath.Join(c.ScanDir(), scanner.SummaryFileName))
	if err != nil {
		t.Fatal(err)
	}
	sum := string(b)
	if !strings.Contains(sum, scanner.InterruptedBanner) || !strings.Contains(sum, "stopped during Zone001") {
		t.Errorf("summary does not record the interruption:\n%s", sum)
	}
	if state, _ := s.QueueStats(); state != stack.Idle {
		t.Errorf("stack queue left %v", state)
	}
}

func TestCancelledContext(t *testing.T) {
	c := testConfig(t)
	s, _ := newScanner(c)
	ctx, cancel := context.WithCancel(context.Background())
	s.OnProgress = func(p scanner.Progress) {
		if p.Pictures == 3 {
			cancel()
		}
	}
	res, err := s.MultiScan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Interrupted || res.Pictures != 3 {
		t.Errorf("expected an interrupted run of 3 pictures, got %+v", res)
	}
}

func TestUpdatePendingZones(t *testing.T) {
	c := testConfig(t)
	s, _ := newScanner(c)
	added := mustZone(t, zone.Point{X: 10000, Y: 10000, Z: 1000}, zone.Point{X: 11000, Y: 10000 + 1, Z: 1000})
	moved := mustZone(t, zone.Point{X: 50000, Y: 50000, Z: 1000}, zone.Point{X: 51000, Y: 51000, Z: 1000})
	once := false
	s.OnProgress = func(p scanner.Progress) {
		if p.Zone == 1 && !once {
			once = true
			// zone 1 is in progress; only the new second zone takes effect
			s.UpdatePendingZones([]zone.Zone{moved, added})
		}
	}
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Zones) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(res.Zones))
	}
	if diff := cmp.Diff(tileDirs, names(t, filepath.Join(c.ScanDir(), "Zone000"))); diff != "" {
		t.Errorf("zone in progress was changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"X010000_Y010000", "X011000_Y010000"}, names(t, filepath.Join(c.ScanDir(), "Zone001"))); diff != "" {
		t.Errorf("pending zone (-want +got):\n%s", diff)
	}
}

func TestExposureTimeoutProceeds(t *testing.T) {
	c := testConfig(t)
	c.Scanner.Exposures = []int{1000, 2000}
	c.Scanner.ExposureTimeout = 3
	stage := motion.NewSim(0)
	cam := camera.NewSim(32, 24, 1, stage)
	cam.Lag = time.Hour
	cam.DepthOfField = 0
	s := scanner.New(c, stage, cam)
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Pictures != 36 {
		t.Errorf("expected stale frames to be kept, got %d pictures", res.Pictures)
	}
}

func TestBusyWhileRunning(t *testing.T) {
	c := testConfig(t)
	s, _ := newScanner(c)
	var busy error
	s.OnProgress = func(p scanner.Progress) {
		if p.Pictures == 1 && busy == nil {
			_, busy = s.MultiScan(context.Background())
			if err := s.SetConfig(c); !errors.Is(err, scanner.ErrBusy) {
				t.Errorf("SetConfig during a run gave %v", err)
			}
		}
	}
	if _, err := s.MultiScan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(busy, scanner.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", busy)
	}
}

func TestJournalRecordsRun(t *testing.T) {
	c := testConfig(t)
	c.Scanner.AutoStack = true
	j, err := journal.Open(filepath.Join(t.TempDir(), "sashimi.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	s, _ := newScanner(c)
	s.Journal = j
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	runs, err := j.Runs(1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run, got %v %v", runs, err)
	}
	if r := runs[0]; r.ID != res.RunID || r.Pictures != 18 || r.Interrupted {
		t.Errorf("unexpected run %+v", r)
	}
	tiles, _ := j.Tiles(res.RunID)
	jobs, _ := j.Jobs(res.RunID)
	if len(tiles) != 9 || len(jobs) != 9 {
		t.Errorf("expected 9 tiles and 9 jobs, got %d and %d", len(tiles), len(jobs))
	}
}

// freeRunner is a camera that captures on its own clock.  Each frame carries
// the stage height at capture in its first pixel.
type freeRunner struct {
	stage motion.PositionQueryer

	mu        sync.Mutex
	requested int
	last      camera.Frame
	have      bool
}

func newFreeRunner(t *testing.T, stage motion.PositionQueryer, period time.Duration) *freeRunner {
	f := &freeRunner{stage: stage, requested: camera.ReferenceExposure}
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				f.capture()
			case <-stop:
				return
			}
		}
	}()
	return f
}

func (f *freeRunner) capture() {
	f.mu.Lock()
	taken, exposure := time.Now(), f.requested
	f.mu.Unlock()
	p, _ := f.stage.Position()
	img := image.NewGray16(image.Rect(0, 0, 2, 2))
	img.SetGray16(0, 0, color.Gray16{Y: uint16(p.Z)})
	f.mu.Lock()
	f.last = camera.Frame{Image: img, Exposure: exposure, Taken: taken}
	f.have = true
	f.mu.Unlock()
}

func (f *freeRunner) SetExposure(us int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = us
	return nil
}

func (f *freeRunner) GetExposure() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requested, nil
}

func (f *freeRunner) SetGain(float64) error { return nil }

func (f *freeRunner) LatestImage() (camera.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.have
}

func TestFramesTakenAtTheirHeight(t *testing.T) {
	c := testConfig(t)
	c.Scanner.MoveTimeout = 2000
	c.Scanner.TileTimeout = 5000
	c.Scanner.ExposureTimeout = 1000
	stage := motion.NewSim(10000)
	cam := newFreeRunner(t, stage, 10*time.Millisecond)
	s := scanner.New(c, stage, cam)
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Pictures != 18 {
		t.Fatalf("expected 18 pictures, got %d", res.Pictures)
	}
	frames, err := filepath.Glob(filepath.Join(c.ScanDir(), "Zone000", "X*", "*.png"))
	if err != nil || len(frames) != 18 {
		t.Fatalf("expected 18 frames on disk, got %d %v", len(frames), err)
	}
	for _, fn := range frames {
		var x, y, z int
		if _, err := fmt.Sscanf(filepath.Base(fn), "X%06d_Y%06d_Z%06d.png", &x, &y, &z); err != nil {
			t.Fatal(err)
		}
		fh, err := os.Open(fn)
		if err != nil {
			t.Fatal(err)
		}
		img, err := png.Decode(fh)
		fh.Close()
		if err != nil {
			t.Fatal(err)
		}
		if got := color.Gray16Model.Convert(img.At(0, 0)).(color.Gray16).Y; int(got) != z {
			t.Errorf("%s was captured at Z=%d", filepath.Base(fn), got)
		}
	}
}

func TestExposureRestoredAfterBracketing(t *testing.T) {
	c := testConfig(t)
	c.Scanner.Exposures = []int{1000, 2000}
	c.Scanner.ExposureTimeout = 500
	stage := motion.NewSim(0)
	cam := camera.NewSim(32, 24, 1, stage)
	cam.Lag = 20 * time.Millisecond
	cam.DepthOfField = 0
	s := scanner.New(c, stage, cam)
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Pictures != 36 {
		t.Errorf("expected 36 pictures, got %d", res.Pictures)
	}
	if e, _ := cam.GetExposure(); e != camera.ReferenceExposure {
		t.Errorf("exposure after run is %d, was %d before", e, camera.ReferenceExposure)
	}
	time.Sleep(3 * cam.Lag)
	if f, _ := cam.LatestImage(); f.Exposure != camera.ReferenceExposure {
		t.Errorf("frames after run are at %d, expected %d", f.Exposure, camera.ReferenceExposure)
	}
}

// failingJournal cannot start runs and counts what is recorded anyway
type failingJournal struct {
	tiles, jobs int
}

func (j *failingJournal) BeginRun(string, int) (string, error) {
	return "", errors.New("database is locked")
}

func (j *failingJournal) EndRun(string, int, bool) error { return nil }

func (j *failingJournal) RecordTile(string, int, string, int) error {
	j.tiles++
	return nil
}

func (j *failingJournal) RecordJob(string, stack.Result) error {
	j.jobs++
	return nil
}

func TestJournalSkippedWithoutRun(t *testing.T) {
	c := testConfig(t)
	c.Scanner.AutoStack = true
	s, _ := newScanner(c)
	j := &failingJournal{}
	s.Journal = j
	res, err := s.MultiScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Pictures != 18 || res.RunID != "" {
		t.Errorf("unexpected result %+v", res)
	}
	if j.tiles != 0 || j.jobs != 0 {
		t.Errorf("recorded %d tiles and %d jobs without a run", j.tiles, j.jobs)
	}
}

func TestTakeStackHereAfterRun(t *testing.T) {
	c := testConfig(t)
	c.Scanner.AutoStack = true
	s, _ := newScanner(c)
	if _, err := s.MultiScan(context.Background()); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	if _, n, err := s.TakeStackHere(context.Background()); err != nil || n != 2 {
		t.Fatalf("take stack here gave %d pictures %v", n, err)
	}
	if strings.Contains(buf.String(), "enqueueing") {
		t.Errorf("single stack was sent to the finished run's queue:\n%s", buf.String())
	}
	if _, st := s.QueueStats(); st.Processed != 9 {
		t.Errorf("last run's stats changed, %+v", st)
	}
}

func TestTakeStackHere(t *testing.T) {
	c := testConfig(t)
	s, stage := newScanner(c)
	stage.GoTo(zone.Point{X: 500, Y: 700, Z: 300})
	dir, n, err := s.TakeStackHere(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 pictures, got %d", n)
	}
	want := []string{"X000500_Y000700_Z000300.png", "X000500_Y000700_Z000350.png"}
	if diff := cmp.Diff(want, names(t, dir)); diff != "" {
		t.Errorf("frames (-want +got):\n%s", diff)
	}
	if p, _ := stage.Position(); p.Z != 300 {
		t.Errorf("stage should return to its height, at %d", p.Z)
	}
}

func TestFormatSummary(t *testing.T) {
	c := testConfig(t)
	c.Scanner.Exposures = []int{1000, 2000}
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := scanner.Result{
		Dir:     "scans/scan",
		Started: start,
		Ended:   start.Add(time.Hour + 2*time.Minute + 3*time.Second),
		Zones: []scanner.ZoneReport{
			{Index: 0, Start: start, Duration: 90 * time.Second, Tiles: 9, Exposures: 2, Layers: 2, Pictures: 36, Done: true}},
		Pictures:      36,
		TotalPictures: 36,
	}
	var buf bytes.Buffer
	scanner.FormatSummary(&buf, c, r)
	out := buf.String()
	for _, want := range []string{
		"exposures (µs) = 1000,2000",
		"Zone000 started at 2024-03-01 10:00:00, lasted 0h 1min 30s and took :",
		"9 stacks x 2 exposures x 2 heights = 36 pictures.",
		"lasted 1h 2min 3s.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, scanner.InterruptedBanner) {
		t.Error("finished run marked interrupted")
	}
}
