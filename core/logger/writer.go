package logger

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// sink receives every line at or above min.
type sink struct {
	w   io.Writer
	min slog.Level
}

type entry struct {
	level slog.Level
	line  []byte
}

// fanoutWriter writes log lines to several sinks from a single goroutine so
// handlers never block on slow files.
type fanoutWriter struct {
	sinks []sink
	queue chan entry
	flush chan chan struct{}
	done  chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu  sync.Mutex
	err error
}

func newFanoutWriter(sinks []sink, queueSize int) *fanoutWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &fanoutWriter{
		sinks: sinks,
		queue: make(chan entry, queueSize),
		flush: make(chan chan struct{}),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *fanoutWriter) loop() {
	defer close(w.done)
	for {
		select {
		case e, ok := <-w.queue:
			if !ok {
				return
			}
			w.writeAll(e)
		case ack := <-w.flush:
			// drain whatever is already queued before acknowledging
			for n := len(w.queue); n > 0; n-- {
				w.writeAll(<-w.queue)
			}
			close(ack)
		}
	}
}

func (w *fanoutWriter) writeAll(e entry) {
	for _, s := range w.sinks {
		if e.level < s.min {
			continue
		}
		if _, err := s.w.Write(e.line); err != nil {
			w.mu.Lock()
			if w.err == nil {
				w.err = err
			}
			w.mu.Unlock()
		}
	}
}

// Write queues line. It blocks when the queue is full rather than dropping logs.
func (w *fanoutWriter) Write(level slog.Level, line []byte) error {
	if err := w.Err(); err != nil {
		return err
	}
	if len(line) == 0 {
		return nil
	}
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return errors.New("logger: writer closed")
	}
	w.queue <- entry{level: level, line: append([]byte(nil), line...)}
	return nil
}

// Flush waits until all queued lines are written.
func (w *fanoutWriter) Flush() error {
	ack := make(chan struct{})
	select {
	case w.flush <- ack:
		<-ack
	case <-w.done:
	}
	return w.Err()
}

// Close drains the queue and stops the writer goroutine.
func (w *fanoutWriter) Close() error {
	w.closeMu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.closeMu.Unlock()
	<-w.done
	return w.Err()
}

// Err reports the first sink write error.
func (w *fanoutWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

type ratioSampler struct {
	mu       sync.Mutex
	num, den int
	counter  int
}

func newRatioSampler(num, den int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(num, den)
	return s
}

// Set configures the sampling ratio. Non-positive values disable sampling.
func (s *ratioSampler) Set(num, den int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if num <= 0 || den <= 0 {
		num, den = 0, 0
	}
	if num > den {
		num = den
	}
	s.num, s.den, s.counter = num, den, 0
}

// Allow reports whether the current event passes the sampler.
func (s *ratioSampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.den == 0 {
		return true
	}
	s.counter++
	if s.counter > s.den {
		s.counter = 1
	}
	return s.counter <= s.num
}

// parseRatioSpec accepts "n/d" or "d" (meaning 1/d).
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if a, b, ok := strings.Cut(spec, "/"); ok {
		num, err1 := strconv.Atoi(strings.TrimSpace(a))
		den, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 == nil && err2 == nil {
			return num, den
		}
		return 0, 0
	}
	if v, err := strconv.Atoi(spec); err == nil && v > 0 {
		return 1, v
	}
	return 0, 0
}
