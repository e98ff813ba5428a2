package software

import (
	"fmt"
	"time"
)

// work is one queued device operation: a buffer write or a submission.
type work struct {
	label  string
	submit bool
	run    func() error

	done chan struct{}
	err  error
}

func newWork(label string, submit bool, run func() error) *work {
	return &work{label: label, submit: submit, run: run, done: make(chan struct{})}
}

// finished reports whether w has completed.
func (w *work) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// worker executes queued work in FIFO order until the queue is closed.
func (d *Device) worker() {
	defer close(d.workerDone)
	for w := range d.queue {
		if w.submit && d.latency > 0 {
			time.Sleep(d.latency)
		}
		start := time.Now()
		w.err = execute(w)
		if w.err != nil {
			d.slogger().Warn("software: queued work failed", "label", w.label, "err", w.err)
		} else if w.submit {
			d.slogger().Debug("software: submission complete", "label", w.label, "elapsed", time.Since(start))
		}
		close(w.done)
	}
}

// execute runs w, turning a kernel panic into an error.
func execute(w *work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel panic: %v", r)
		}
	}()
	return w.run()
}
