/*Package comm provides a line-oriented connection to lab hardware over a
serial port or TCP.

Most usages of this package will boil down to:
	1.  embed or hold a *RemoteDevice in a type that represents your hardware.
	2.  call Open once, then Transact for each command.
	3.  supply a done func that recognizes the device's acknowledgement line.

A minimal example is provided below for a printer board that acknowledges each
command with "ok"

	rd := comm.NewRemoteDevice("/dev/ttyUSB0", true, 115200)
	if err := rd.Open(); err != nil {
		return err
	}
	defer rd.Close()
	lines, err := rd.Transact([]byte("M114"), comm.UntilOK)
*/
package comm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/microfossil/particle-scanner/util"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var (
	terminator = byte('\n')

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrTooManyLines is generated when a transaction never sees its done line
	ErrTooManyLines = errors.New("response exceeded line limit without acknowledgement")
)

// maxLines bounds the number of lines a single Transact will read
const maxLines = 256

// UntilOK is a done func for Transact that stops at a line beginning with "ok"
func UntilOK(line []byte) bool {
	return bytes.HasPrefix(line, []byte("ok"))
}

/*RemoteDevice has an address and speaks newline terminated ASCII.

The device is concurrent-safe; Transact holds an internal lock so that a
command and its response are never interleaved with another.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Baud     int

	// Timeout is the read timeout on serial links and the dial/IO timeout on TCP
	Timeout time.Duration

	Conn   io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool, baud int) *RemoteDevice {
	return &RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Baud:     baud,
		Timeout:  3 * time.Second}
}

// SerialConf yields a pointer to a serial config object for use with serial.OpenPort
func (rd *RemoteDevice) SerialConf() *serial.Config {
	return &serial.Config{Name: rd.Addr, Baud: rd.Baud, ReadTimeout: rd.Timeout}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// printer boards reset when the port opens and refuse connections for a
	// moment, so retry with an exponential backoff
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || strings.Contains(errS, "no such") {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s", rd.Addr)
	}
	return errors.Wrapf(err, "opening %s", rd.Addr)
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		conn, err = serial.OpenPort(rd.SerialConf())
	} else {
		conn, err = util.TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Attach(conn)
	return nil
}

// Attach uses an already open connection, e.g. one end of a net.Pipe
func (rd *RemoteDevice) Attach(conn io.ReadWriteCloser) {
	rd.Conn = conn
	rd.reader = bufio.NewReader(conn)
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.reader = nil
	}
	return err
}

// Send writes data to the remote with the terminator appended
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, terminator)
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv recieves one line from the remote and strips the terminator and any
// carriage return
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	buf, err := rd.reader.ReadBytes(terminator)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return bytes.TrimRight(buf, "\r"), ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimRight(buf, "\r\n"), nil
}

// Transact sends b and collects response lines until done returns true for
// one of them.  The done line is included in the output.
func (rd *RemoteDevice) Transact(b []byte, done func([]byte) bool) ([][]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.Send(b); err != nil {
		return nil, err
	}
	var lines [][]byte
	for i := 0; i < maxLines; i++ {
		line, err := rd.Recv()
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
		if done(line) {
			return lines, nil
		}
	}
	return lines, ErrTooManyLines
}
