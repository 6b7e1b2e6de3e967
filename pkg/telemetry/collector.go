package telemetry

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State is the collector lifecycle state.
type State int

const (
	StateIdle State = iota
	StateWarming
	StateActive
	StateCoolingDown
	StateStopped
)

// engine drives one external source in one goroutine and owns the only
// shared mutable state in a collector: the current segment label and the
// capture counters. Pool and ARC collectors layer their typed buffers on
// top of it.
//
// Locking: ingest callbacks run with mu held, so buffer appends and label
// reads are atomic with respect to Segment() and the count accessors.
// Unsynchronized access here silently corrupts segment attribution.
type engine struct {
	src         Source
	interval    time.Duration
	maxRestarts int
	log         *zap.Logger

	// ingest parses one output line and appends a sample; it returns true
	// when a sample was captured. Called with mu held.
	ingest func(line string, ts time.Time, label string) bool

	mu             sync.Mutex
	state          State
	label          string
	count          int
	warmupTarget   int
	cooldownTarget int
	stopping       bool
	incomplete     bool

	// restartMu serializes child respawn against stop's terminate. A
	// restart holds it across Terminate+Open, so stop either runs before
	// the new child exists or kills it right after; a child can never
	// outlive stop.
	restartMu sync.Mutex

	loopDone chan struct{}
}

func newEngine(src Source, interval time.Duration, maxRestarts int, log *zap.Logger) *engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &engine{
		src:         src,
		interval:    interval,
		maxRestarts: maxRestarts,
		log:         log,
		loopDone:    make(chan struct{}),
	}
}

func (e *engine) start(warmupCount int) error {
	stream, err := e.src.Open()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.warmupTarget = warmupCount
	if warmupCount > 0 {
		e.state = StateWarming
	} else {
		e.state = StateActive
	}
	e.mu.Unlock()

	e.log.Info("telemetry collection started",
		zap.String("source", e.src.Name()),
		zap.Duration("interval", e.interval),
		zap.Int("warmup_samples", warmupCount))

	go e.loop(stream)
	return nil
}

func (e *engine) loop(stream io.ReadCloser) {
	defer close(e.loopDone)
	defer e.src.Terminate()

	restarts := 0
	for {
		err := readLines(stream, e.onLine)
		if e.isStopping() {
			return
		}

		// The child died mid-run. Restart within budget, preserving
		// everything captured so far.
		if restarts >= e.maxRestarts {
			e.log.Error("telemetry source died, restart budget exhausted",
				zap.String("source", e.src.Name()),
				zap.Int("restarts", restarts),
				zap.Error(err))
			e.markIncomplete()
			return
		}
		restarts++
		e.log.Warn("telemetry source died, restarting",
			zap.String("source", e.src.Name()),
			zap.Int("attempt", restarts))

		next, openErr := e.reopen()
		if openErr != nil {
			if e.isStopping() {
				return
			}
			e.log.Error("telemetry source restart failed", zap.Error(openErr))
			e.markIncomplete()
			return
		}
		stream = next
	}
}

// reopen respawns the child unless a stop is already in progress.
func (e *engine) reopen() (io.ReadCloser, error) {
	e.restartMu.Lock()
	defer e.restartMu.Unlock()
	if e.isStopping() {
		return nil, errors.New("collector stopping")
	}
	e.src.Terminate()
	return e.src.Open()
}

func (e *engine) onLine(line string) {
	ts := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		return
	}
	if !e.ingest(line, ts, e.effectiveLabel()) {
		return
	}
	e.count++
	if e.state == StateWarming && e.count >= e.warmupTarget {
		e.state = StateActive
		e.log.Info("warmup complete", zap.Int("samples", e.count))
	}
}

// effectiveLabel is the label the next captured sample carries. Outside
// the active window the reserved sentinels win regardless of what the
// driver last issued. Called with mu held.
func (e *engine) effectiveLabel() string {
	switch e.state {
	case StateWarming:
		return LabelWarmup
	case StateCoolingDown:
		return LabelCooldown
	default:
		return e.label
	}
}

// segment updates the label the next captured sample will carry.
// Already-buffered samples are never relabeled.
func (e *engine) segment(label string) {
	e.mu.Lock()
	e.label = label
	e.mu.Unlock()
	e.log.Info("segment boundary", zap.String("label", label))
}

// stop waits for cooldownCount additional samples (bounded by wall clock
// and by the loop dying), then terminates the child and joins the loop.
func (e *engine) stop(cooldownCount int) {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	e.state = StateCoolingDown
	e.cooldownTarget = e.count + cooldownCount
	e.mu.Unlock()

	if cooldownCount > 0 {
		// A dead source produces no more samples; don't wait on it.
		grace := time.Duration(cooldownCount)*e.interval + 5*time.Second
		deadline := time.After(grace)
		tick := time.NewTicker(50 * time.Millisecond)
	Cooldown:
		for {
			e.mu.Lock()
			reached := e.count >= e.cooldownTarget
			e.mu.Unlock()
			if reached {
				break
			}
			select {
			case <-e.loopDone:
				break Cooldown
			case <-deadline:
				e.log.Warn("cooldown wait timed out")
				break Cooldown
			case <-tick.C:
			}
		}
		tick.Stop()
	}

	e.mu.Lock()
	e.stopping = true
	e.state = StateStopped
	e.mu.Unlock()

	// Under restartMu: if the loop is mid-respawn we wait for the new
	// child, then kill it; its EOF sends the loop to the isStopping exit.
	e.restartMu.Lock()
	e.src.Terminate()
	e.restartMu.Unlock()
	<-e.loopDone

	e.log.Info("telemetry collection stopped", zap.Int("samples", e.sampleCount()))
}

func (e *engine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *engine) markIncomplete() {
	e.mu.Lock()
	e.incomplete = true
	e.mu.Unlock()
}

func (e *engine) isIncomplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.incomplete
}

func (e *engine) sampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *engine) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
