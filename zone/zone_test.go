package zone_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/microfossil/particle-scanner/zone"
	"github.com/pkg/errors"
)

func ExampleZone_LowestZ() {
	z := zone.Zone{
		FL:        zone.Point{X: 0, Y: 0, Z: 2000},
		BR:        zone.Point{X: 2000, Y: 2000, Z: 2200},
		BackLeftZ: 1800,
	}
	fmt.Println(z.FrontRightZ(), z.LowestZ(200))
	// Output: 1600 1400
}

func ExampleZone_Steps() {
	z := zone.Zone{BR: zone.Point{X: 2000, Y: 2000}}
	sx, sy, _ := z.Steps(zone.Pitch{X: 1000, Y: 1000})
	fmt.Println(sx, sy)
	// Output: 3 3
}

func randomZone(r *rand.Rand) zone.Zone {
	fl := zone.Point{X: r.Intn(100000), Y: r.Intn(100000), Z: r.Intn(5000)}
	br := zone.Point{
		X: fl.X + 1 + r.Intn(50000),
		Y: fl.Y + 1 + r.Intn(50000),
		Z: r.Intn(5000)}
	z := zone.Zone{FL: fl, BR: br}
	if err := z.SetBackLeftZ(r.Intn(5000)); err != nil {
		panic(err)
	}
	return z
}

func TestStepsAtLeastOne(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		z := randomZone(r)
		p := zone.Pitch{X: 1 + r.Intn(3000), Y: 1 + r.Intn(3000)}
		sx, sy, err := z.Steps(p)
		if err != nil {
			t.Fatalf("valid zone %+v rejected: %v", z, err)
		}
		if sx < 1 || sy < 1 {
			t.Errorf("expected at least one step per axis, got %d x %d", sx, sy)
		}
		tiles, _ := z.Tiles(p)
		if len(tiles) != sx*sy {
			t.Errorf("expected %d tiles, got %d", sx*sy, len(tiles))
		}
	}
}

func TestTilesRowMajor(t *testing.T) {
	z := zone.Zone{FL: zone.Point{X: 100, Y: 200, Z: 50}, BR: zone.Point{X: 1100, Y: 1200, Z: 50}}
	tiles, err := z.Tiles(zone.Pitch{X: 1000, Y: 1000})
	if err != nil {
		t.Fatal(err)
	}
	got := make([]zone.Point, len(tiles))
	for i, tile := range tiles {
		got[i] = tile.Target
	}
	want := []zone.Point{
		{X: 100, Y: 200, Z: 50},
		{X: 1100, Y: 200, Z: 50},
		{X: 100, Y: 1200, Z: 50},
		{X: 1100, Y: 1200, Z: 50},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tile order mismatch (-want +got):\n%s", diff)
	}
}

func TestInvertedZoneRejected(t *testing.T) {
	z := zone.Zone{FL: zone.Point{X: 1000, Y: 1000}, BR: zone.Point{X: 0, Y: 2000}}
	_, _, err := z.Steps(zone.Pitch{X: 100, Y: 100})
	if errors.Cause(err) != zone.ErrInverted {
		t.Errorf("expected ErrInverted, got %v", err)
	}
}

func TestBadPitchRejected(t *testing.T) {
	z := zone.Zone{BR: zone.Point{X: 10, Y: 10}}
	if _, _, err := z.Steps(zone.Pitch{}); err != zone.ErrBadPitch {
		t.Errorf("expected ErrBadPitch, got %v", err)
	}
}

func TestCorrectionsDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		z := randomZone(r)
		a := z
		b := z
		if err := a.SetBackLeftZ(z.BackLeftZ); err != nil {
			t.Fatal(err)
		}
		if err := b.SetBackLeftZ(z.BackLeftZ); err != nil {
			t.Fatal(err)
		}
		if a.Corrections != b.Corrections || a.Corrections != z.Corrections {
			t.Errorf("recomputed slopes differ: %+v %+v %+v", z.Corrections, a.Corrections, b.Corrections)
		}
	}
}

func TestDegenerateUpdateRefused(t *testing.T) {
	z := zone.Zone{FL: zone.Point{X: 0, Y: 0, Z: 100}, BR: zone.Point{X: 1000, Y: 1000, Z: 300}}
	if err := z.SetBackLeftZ(200); err != nil {
		t.Fatal(err)
	}
	before := z
	z.BR.X = z.FL.X
	if err := z.SetBackLeftZ(900); err != zone.ErrDegenerate {
		t.Fatalf("expected ErrDegenerate, got %v", err)
	}
	if z.Corrections != before.Corrections || z.BackLeftZ != before.BackLeftZ {
		t.Errorf("degenerate update mutated zone: before %+v after %+v", before, z)
	}
	if err := z.UpdateCorrections(); err != zone.ErrDegenerate {
		t.Errorf("expected ErrDegenerate from UpdateCorrections, got %v", err)
	}
}

func TestTiltFlatZoneIsFLHeight(t *testing.T) {
	z, err := zone.New(zone.Point{Z: 1500}, zone.Point{X: 5000, Y: 5000, Z: 1500})
	if err != nil {
		t.Fatal(err)
	}
	if got := z.TiltZ(2500, 4000, 200); got != 1300 {
		t.Errorf("expected 1300, got %d", got)
	}
}

func TestTiltReachesCorners(t *testing.T) {
	z := zone.Zone{FL: zone.Point{Z: 1000}, BR: zone.Point{X: 1000, Y: 2000, Z: 3000}}
	if err := z.SetBackLeftZ(1500); err != nil {
		t.Fatal(err)
	}
	if got := z.TiltZ(1000, 0, 0); got != 1500 {
		t.Errorf("expected back-left height 1500 at (W, 0), got %d", got)
	}
	if got := z.TiltZ(1000, 2000, 0); got != 3000 {
		t.Errorf("expected BR height 3000 at (W, H), got %d", got)
	}
}

func TestNeverNegative(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		z := randomZone(r)
		margin := r.Intn(20000)
		dx := r.Intn(z.BR.X - z.FL.X + 1)
		dy := r.Intn(z.BR.Y - z.FL.Y + 1)
		if v := z.TiltZ(dx, dy, margin); v < 0 {
			t.Errorf("tilt height %d < 0", v)
		}
		if v := z.LowestZ(margin); v < 0 {
			t.Errorf("lowest height %d < 0", v)
		}
	}
	deep := zone.Zone{FL: zone.Point{Z: 100}, BR: zone.Point{X: 10, Y: 10, Z: 100}, BackLeftZ: 100}
	if v := deep.StartZ(0, 0, 1000, true); v != 0 {
		t.Errorf("expected margin larger than height to clamp to 0, got %d", v)
	}
	if v := deep.StartZ(0, 0, 1000, false); v != 0 {
		t.Errorf("expected margin larger than height to clamp to 0, got %d", v)
	}
}

func TestLowestIsConservative(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 2000; i++ {
		z := randomZone(r)
		margin := r.Intn(500)
		dx := r.Intn(z.BR.X - z.FL.X + 1)
		dy := r.Intn(z.BR.Y - z.FL.Y + 1)
		lo, tilt := z.LowestZ(margin), z.TiltZ(dx, dy, margin)
		if lo > tilt {
			t.Errorf("zone %+v offset (%d, %d): lowest %d above tilt %d", z, dx, dy, lo, tilt)
		}
	}
}

func TestPitchFromFieldOfView(t *testing.T) {
	p := zone.PitchFromFieldOfView(2000, 1600, 0.15, 0.25)
	if p.X != 1700 || p.Y != 1200 {
		t.Errorf("expected 1700x1200, got %dx%d", p.X, p.Y)
	}
}

func TestCorners(t *testing.T) {
	z := zone.Zone{
		FL:        zone.Point{X: 100, Y: 200, Z: 1000},
		BR:        zone.Point{X: 900, Y: 800, Z: 1300},
		BackLeftZ: 1100,
	}
	want := map[string]zone.Point{
		"fl": {X: 100, Y: 200, Z: 1000},
		"BR": {X: 900, Y: 800, Z: 1300},
		"bl": {X: 100, Y: 800, Z: 1100},
		"fr": {X: 900, Y: 200, Z: 800},
	}
	for name, p := range want {
		got, err := z.Corner(name)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(p, got); diff != "" {
			t.Errorf("corner %s (-want +got):\n%s", name, diff)
		}
	}
	if _, err := z.Corner("middle"); err == nil {
		t.Error("unknown corner accepted")
	}
}
