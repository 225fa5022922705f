/*Package stack hands completed tile directories to an external focus
stacking tool without blocking the scan.

A Queue owns one worker goroutine which processes jobs strictly in the order
they were enqueued.  Enqueue never blocks on the worker; jobs wait in an
unbounded FIFO.  Close lets the worker finish every queued job and then
exit, Kill cancels the job in flight (killing the child process) and drops
the rest.

	IDLE -Start-> RUNNING -Close-> DRAINING -> IDLE
	              RUNNING -Kill--> KILLED   -> IDLE
*/
package stack

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotRunning is returned when jobs are sent to a queue which is not running
	ErrNotRunning = errors.New("stack queue is not running")

	// ErrAlreadyRunning is returned by Start on a running queue
	ErrAlreadyRunning = errors.New("stack queue is already running")
)

// State is the lifecycle state of a Queue
type State int

const (
	// Idle means no worker is running
	Idle State = iota

	// Running means the worker is consuming jobs
	Running

	// Draining means no more jobs are accepted and the worker is finishing
	// the ones it has
	Draining

	// Killed means the worker is being torn down without finishing its jobs
	Killed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Killed:
		return "KILLED"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Job is a raw tile directory and the directory its fused image goes in.
// Once enqueued the worker is the only one allowed to touch RawDir.
type Job struct {
	RawDir    string `json:"rawDir"`
	OutputDir string `json:"outputDir"`
}

// Name is the name of the fused image, the base name of the raw directory
func (j Job) Name() string {
	return filepath.Base(j.RawDir)
}

// message is either a job or the shutdown marker
type message struct {
	job      Job
	shutdown bool
}

// Stats counts what a queue has done since it was started
type Stats struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

// Result describes one finished job
type Result struct {
	Job      Job
	Outputs  []string
	Err      error
	Duration time.Duration
}

// Queue is a stack dispatch queue
type Queue struct {
	// Stacker fuses each directory
	Stacker Stacker

	// RemoveRaw deletes a job's raw directory once all of it stacked
	// successfully.  Raw data of a failed job is always kept.
	RemoveRaw bool

	// ErrorLog receives one entry per failed job.  log.Default() if nil.
	ErrorLog *log.Logger

	// OnResult, if not nil, is called from the worker after every job
	OnResult func(Result)

	mu     sync.Mutex
	state  State
	in     chan message
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	stats  Stats
}

// NewQueue returns an idle queue
func NewQueue(s Stacker, removeRaw bool, errLog *log.Logger) *Queue {
	return &Queue{Stacker: s, RemoveRaw: removeRaw, ErrorLog: errLog}
}

// OpenErrorLog opens (appending) the error log file at path
func OpenErrorLog(path string) (*log.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return nil, nil, err
	}
	return log.New(f, "", log.LstdFlags), f, nil
}

// State returns the current state
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Stats returns a copy of the counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) errLog() *log.Logger {
	if q.ErrorLog == nil {
		return log.Default()
	}
	return q.ErrorLog
}

// Start spawns the worker.  Cancelling ctx is equivalent to Kill.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Idle {
		return ErrAlreadyRunning
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.in = make(chan message)
	q.done = make(chan struct{})
	q.stats = Stats{}
	q.state = Running

	work := make(chan message)
	go q.pump(q.ctx, q.in, work)
	go q.work(q.ctx, work, q.done)
	return nil
}

// Enqueue adds a job to the back of the queue
func (q *Queue) Enqueue(j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Running {
		return ErrNotRunning
	}
	select {
	case q.in <- message{job: j}:
		return nil
	case <-q.ctx.Done():
		return ErrNotRunning
	}
}

// Close enqueues the shutdown marker and waits for the worker to process
// every job ahead of it
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.state != Running {
		q.mu.Unlock()
		return ErrNotRunning
	}
	q.state = Draining
	select {
	case q.in <- message{shutdown: true}:
	case <-q.ctx.Done():
	}
	close(q.in)
	done := q.done
	q.mu.Unlock()

	<-done
	q.finish()
	return nil
}

// Kill stops the worker without draining.  A stacking tool in flight is
// killed.  Kill returns once the worker has exited.
func (q *Queue) Kill() {
	q.mu.Lock()
	if q.state != Running && q.state != Draining {
		q.mu.Unlock()
		return
	}
	q.state = Killed
	q.cancel()
	done := q.done
	q.mu.Unlock()

	<-done
	q.finish()
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Idle {
		q.cancel()
		q.state = Idle
	}
}

// pump moves messages from in to out through an unbounded buffer so that
// senders never wait on the worker
func (q *Queue) pump(ctx context.Context, in <-chan message, out chan<- message) {
	defer close(out)
	var pending []message
	for {
		var (
			send chan<- message
			next message
		)
		if len(pending) > 0 {
			send = out
			next = pending[0]
		}
		select {
		case m, ok := <-in:
			if !ok {
				in = nil
				if len(pending) == 0 {
					return
				}
				continue
			}
			pending = append(pending, m)
		case send <- next:
			pending = pending[1:]
			if in == nil && len(pending) == 0 {
				return
			}
		case <-ctx.Done():
			q.drop(pending)
			return
		}
	}
}

func (q *Queue) drop(ms []message) {
	n := 0
	for _, m := range ms {
		if !m.shutdown {
			n++
		}
	}
	if n == 0 {
		return
	}
	q.mu.Lock()
	q.stats.Dropped += n
	q.mu.Unlock()
	q.errLog().Printf("stack queue killed, %d job(s) dropped\n", n)
}

func (q *Queue) work(ctx context.Context, work <-chan message, done chan<- struct{}) {
	defer close(done)
	for m := range work {
		if m.shutdown {
			return
		}
		if ctx.Err() != nil {
			q.drop([]message{m})
			continue
		}
		start := time.Now()
		outs, err := q.process(ctx, m.job)
		if err != nil && ctx.Err() != nil {
			// killed mid-job, the raw data is untouched
			q.drop([]message{m})
			continue
		}
		res := Result{Job: m.job, Outputs: outs, Err: err, Duration: time.Since(start)}

		q.mu.Lock()
		if err != nil {
			q.stats.Failed++
		} else {
			q.stats.Processed++
		}
		q.mu.Unlock()

		if err != nil {
			q.errLog().Printf("error processing %s: %v\n", m.job.RawDir, err)
		}
		if q.OnResult != nil {
			q.OnResult(res)
		}
	}
}

// process stacks every exposure sub-directory of the job, or the job's
// directory itself if it has none
func (q *Queue) process(ctx context.Context, j Job) (outs []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while stacking: %v", r)
		}
	}()
	subdirs, err := ExposureDirs(j.RawDir)
	if err != nil {
		return nil, err
	}
	type pair struct{ src, dst string }
	var pairs []pair
	if len(subdirs) == 0 {
		pairs = append(pairs, pair{j.RawDir, j.OutputDir})
	}
	for _, d := range subdirs {
		pairs = append(pairs, pair{filepath.Join(j.RawDir, d), filepath.Join(j.OutputDir, d)})
	}
	for _, p := range pairs {
		if err = os.MkdirAll(p.dst, 0777); err != nil {
			return outs, err
		}
		fn, err := q.Stacker.Stack(ctx, p.src, filepath.Join(p.dst, j.Name()))
		if err != nil {
			return outs, errors.Wrap(err, p.src)
		}
		outs = append(outs, fn)
	}
	if q.RemoveRaw {
		if err = os.RemoveAll(j.RawDir); err != nil {
			return outs, errors.Wrap(err, "removing raw images")
		}
	}
	return outs, nil
}

// ExposureDirs returns the E<exposure> sub-directories of a tile directory,
// ordered by exposure
func ExposureDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type exp struct {
		name string
		us   int
	}
	var exps []exp
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "E") {
			continue
		}
		us, err := strconv.Atoi(e.Name()[1:])
		if err != nil {
			continue
		}
		exps = append(exps, exp{e.Name(), us})
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i].us < exps[j].us })
	out := make([]string, len(exps))
	for i, e := range exps {
		out[i] = e.name
	}
	return out, nil
}
