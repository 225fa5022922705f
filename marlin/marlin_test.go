package marlin_test

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/microfossil/particle-scanner/comm"
	"github.com/microfossil/particle-scanner/marlin"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/zone"
)

// board is a fake Marlin firmware which teleports to each G1 target
type board struct {
	pos      [3]float64
	received []string
}

func (b *board) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		b.received = append(b.received, line)
		switch {
		case strings.HasPrefix(line, "G1"):
			for _, f := range strings.Fields(line)[1:] {
				v, _ := strconv.ParseFloat(f[1:], 64)
				switch f[0] {
				case 'X':
					b.pos[0] = v
				case 'Y':
					b.pos[1] = v
				case 'Z':
					b.pos[2] = v
				}
			}
		case strings.HasPrefix(line, "G28"):
			b.pos = [3]float64{}
		case line == "M114":
			fmt.Fprintf(conn, "X:%.2f Y:%.2f Z:%.2f E:0.00 Count X:0 Y:0 Z:0\r\n", b.pos[0], b.pos[1], b.pos[2])
		}
		conn.Write([]byte("ok\n"))
	}
}

func newStage(t *testing.T) (*marlin.Stage, *board) {
	a, c := net.Pipe()
	t.Cleanup(func() { a.Close() })
	b := &board{}
	go b.serve(c)
	rd := comm.NewRemoteDevice("pipe", false, 0)
	rd.Attach(a)
	return marlin.NewWithDevice(rd), b
}

func ExampleParsePosition() {
	p, ok := marlin.ParsePosition("X:10.00 Y:50.25 Z:2.00 E:0.00 Count X:800 Y:4020 Z:800")
	fmt.Println(p, ok)
	// Output: [10000, 50250, 2000] true
}

func TestParsePositionRejectsEcho(t *testing.T) {
	if _, ok := marlin.ParsePosition("echo:busy: processing"); ok {
		t.Error("echo line parsed as a position")
	}
}

func TestGoToSendsOnlyChangedAxes(t *testing.T) {
	s, b := newStage(t)
	if err := s.GoTo(zone.Point{X: 1500, Y: 0, Z: 250}); err != nil {
		t.Fatal(err)
	}
	exp := []string{"G1 X1.500 F3000", "G1 Z0.250 F100"}
	if len(b.received) != len(exp) {
		t.Fatalf("expected %q, got %q", exp, b.received)
	}
	for i := range exp {
		if b.received[i] != exp[i] {
			t.Errorf("command %d: expected %q, got %q", i, exp[i], b.received[i])
		}
	}
}

func TestInPositionAfterMove(t *testing.T) {
	s, _ := newStage(t)
	target := zone.Point{X: 12000, Y: 3400, Z: 560}
	s.GoTo(target)
	in, err := s.InPosition()
	if err != nil {
		t.Fatal(err)
	}
	if !in {
		p, _ := s.Position()
		t.Errorf("expected in position at %v, firmware reports %v", target, p)
	}
}

func TestGoToClampsToLimits(t *testing.T) {
	s, _ := newStage(t)
	s.GoTo(zone.Point{X: -10, Y: 999999, Z: 10})
	c := s.Commanded()
	if !motion.DefaultLimits.Contains(c) {
		t.Errorf("commanded position %v outside soft limits", c)
	}
}

func TestHomeAndOffsetApproachesFromAbove(t *testing.T) {
	s, b := newStage(t)
	if err := marlin.HomeAndOffset(s, zone.Point{X: 1000, Y: 1000, Z: 500}); err != nil {
		t.Fatal(err)
	}
	if b.received[0] != "G28 R X Y Z" {
		t.Errorf("expected homing first, got %q", b.received[0])
	}
	last := b.received[len(b.received)-1]
	if last != "G1 Z0.500 F100" {
		t.Errorf("expected final descent to Z=0.5mm, got %q", last)
	}
	prev := b.received[len(b.received)-2]
	if prev != "G1 Z1.500 F100" {
		t.Errorf("expected approach from Z=1.5mm, got %q", prev)
	}
}
