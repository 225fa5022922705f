package comm_test

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/microfossil/particle-scanner/comm"
)

// fakeBoard answers every line it reads with the given responses followed by "ok"
func fakeBoard(conn net.Conn, responses map[string][]string) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		for _, resp := range responses[line] {
			conn.Write([]byte(resp + "\r\n"))
		}
		conn.Write([]byte("ok\n"))
	}
}

func TestTransactCollectsUntilOK(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	go fakeBoard(b, map[string][]string{
		"M114": {"X:10.000 Y:50.000 Z:2.000 E:0.000 Count X:800 Y:4000 Z:800"},
	})
	rd := comm.NewRemoteDevice("pipe", false, 0)
	rd.Attach(a)
	lines, err := rd.Transact([]byte("M114"), comm.UntilOK)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected position line and ok, got %q", lines)
	}
	if !strings.HasPrefix(string(lines[0]), "X:10.000") {
		t.Errorf("expected position report first, got %q", lines[0])
	}
	if string(lines[1]) != "ok" {
		t.Errorf("expected carriage return stripped ok, got %q", lines[1])
	}
}

func TestSendWithoutConnection(t *testing.T) {
	rd := comm.NewRemoteDevice("nowhere", false, 0)
	if err := rd.Send([]byte("G28")); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestUntilOK(t *testing.T) {
	if !comm.UntilOK([]byte("ok T:25.0")) {
		t.Error("expected ok-prefixed line to finish a transaction")
	}
	if comm.UntilOK([]byte("echo:busy: processing")) {
		t.Error("expected busy line not to finish a transaction")
	}
}
