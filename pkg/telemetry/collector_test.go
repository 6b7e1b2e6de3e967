package telemetry

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource feeds collector tests through a pipe instead of a child
// process. Each Open hands out a fresh pipe, like a restarted child.
type fakeSource struct {
	mu       sync.Mutex
	w        *io.PipeWriter
	opens    int
	failOpen bool
}

func (f *fakeSource) Open() (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		return nil, ErrSourceUnavailable
	}
	r, w := io.Pipe()
	f.w = w
	f.opens++
	return r, nil
}

func (f *fakeSource) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w != nil {
		_ = f.w.Close()
	}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) writeLine(line string) {
	f.mu.Lock()
	w := f.w
	f.mu.Unlock()
	_, _ = io.WriteString(w, line+"\n")
}

// closeStream simulates the child dying mid-run.
func (f *fakeSource) closeStream() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.w.Close()
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// poolLine builds a valid iostat line with the given read-IOPS token.
func poolLine(readOps string) string {
	return "tank 100 200 " + readOps + " 0 1M 0 500us 0 300us 0 0 0 0 0 - -"
}

func TestPoolCollectorLifecycle(t *testing.T) {
	src := &fakeSource{}
	c := NewPoolCollector(PoolCollectorOptions{
		Pool:           "tank",
		Interval:       10 * time.Millisecond,
		MaxRestarts:    2,
		IdleEpsilonOps: 1.0,
		Source:         src,
	})
	require.NoError(t, c.Start(2))

	src.writeLine(poolLine("1K"))
	src.writeLine(poolLine("1K"))
	waitFor(t, "warmup samples", func() bool { return c.SampleCount() == 2 })
	assert.Equal(t, StateActive, c.CurrentState())

	c.Segment("seq_read")
	src.writeLine(poolLine("2K"))
	src.writeLine(poolLine("2K"))
	waitFor(t, "segment samples", func() bool { return c.SampleCount() == 4 })

	// Feed the cooldown sample once Stop has flipped the state, so the
	// label assertion below is deterministic.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if c.CurrentState() == StateCoolingDown {
				src.writeLine(poolLine("0"))
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	telem := c.Stop(1)
	require.NotNil(t, telem)
	require.Len(t, telem.Samples, 5)
	assert.False(t, telem.Incomplete)
	assert.Equal(t, 2, telem.WarmupSamples)
	assert.Equal(t, 1, telem.CooldownSamples)

	// Labels are assigned at capture time and never rewritten: the two
	// pre-Segment samples stay warmup even though a label came later.
	assert.Equal(t, LabelWarmup, telem.Samples[0].SegmentLabel)
	assert.Equal(t, LabelWarmup, telem.Samples[1].SegmentLabel)
	assert.Equal(t, "seq_read", telem.Samples[2].SegmentLabel)
	assert.Equal(t, "seq_read", telem.Samples[3].SegmentLabel)
	assert.Equal(t, LabelCooldown, telem.Samples[4].SegmentLabel)

	assert.Equal(t, PhaseRead, telem.Samples[2].Phase)
	assert.Equal(t, PhaseIdle, telem.Samples[4].Phase)

	// Idempotent: the second Stop returns the identical result.
	again := c.Stop(99)
	assert.Same(t, telem, again)
}

func TestPoolCollectorRestartPreservesSamples(t *testing.T) {
	src := &fakeSource{}
	c := NewPoolCollector(PoolCollectorOptions{
		Pool:        "tank",
		Interval:    10 * time.Millisecond,
		MaxRestarts: 2,
		Source:      src,
	})
	require.NoError(t, c.Start(0))

	src.writeLine(poolLine("1K"))
	waitFor(t, "first sample", func() bool { return c.SampleCount() == 1 })

	src.closeStream()
	waitFor(t, "restart", func() bool { return src.openCount() == 2 })

	src.writeLine(poolLine("1K"))
	waitFor(t, "post-restart sample", func() bool { return c.SampleCount() == 2 })

	telem := c.Stop(0)
	assert.Len(t, telem.Samples, 2)
	assert.False(t, telem.Incomplete)
}

func TestPoolCollectorRestartBudgetExhausted(t *testing.T) {
	src := &fakeSource{}
	c := NewPoolCollector(PoolCollectorOptions{
		Pool:        "tank",
		Interval:    10 * time.Millisecond,
		MaxRestarts: 0,
		Source:      src,
	})
	require.NoError(t, c.Start(0))

	src.writeLine(poolLine("1K"))
	waitFor(t, "first sample", func() bool { return c.SampleCount() == 1 })

	src.closeStream()
	waitFor(t, "incomplete flag", func() bool { return c.eng.isIncomplete() })

	telem := c.Stop(0)
	assert.True(t, telem.Incomplete)
	// Everything captured before the failure is retained.
	assert.Len(t, telem.Samples, 1)
}

func TestPoolCollectorLiveIOPS(t *testing.T) {
	src := &fakeSource{}
	c := NewPoolCollector(PoolCollectorOptions{
		Pool:     "tank",
		Interval: 10 * time.Millisecond,
		Source:   src,
	})
	require.NoError(t, c.Start(0))

	for _, ops := range []string{"1000", "2000", "3000"} {
		src.writeLine(poolLine(ops))
	}
	waitFor(t, "three samples", func() bool { return c.SampleCount() == 3 })

	// hdrhistogram quantiles are exact to ~3 significant figures.
	assert.InDelta(t, 2000, c.LiveIOPS(50), 5)
	assert.InDelta(t, 3000, c.LiveIOPS(99), 5)

	c.Stop(0)
}

func TestPoolCollectorStopDuringRestart(t *testing.T) {
	// Stop racing a mid-run respawn must still terminate the child and
	// join the polling loop, whichever side wins the window.
	src := &fakeSource{}
	c := NewPoolCollector(PoolCollectorOptions{
		Pool:        "tank",
		Interval:    10 * time.Millisecond,
		MaxRestarts: 100,
		Source:      src,
	})
	require.NoError(t, c.Start(0))

	src.writeLine(poolLine("1K"))
	waitFor(t, "first sample", func() bool { return c.SampleCount() == 1 })
	src.closeStream()

	done := make(chan struct{})
	go func() {
		c.Stop(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not join the polling loop")
	}
}

func TestExecSourceConcurrentTerminate(t *testing.T) {
	src := newExecSource([]string{"sleep", "60"})
	_, err := src.Open()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.Terminate()
		}()
	}
	wg.Wait()

	// Fully torn down: a fresh Open must work.
	stream, err := src.Open()
	require.NoError(t, err)
	_ = stream.Close()
	src.Terminate()
}

func TestPoolCollectorSourceUnavailable(t *testing.T) {
	src := &fakeSource{failOpen: true}
	c := NewPoolCollector(PoolCollectorOptions{Pool: "tank", Source: src})

	err := c.Start(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))

	// Stop after a failed Start must not hang on a loop that never ran.
	telem := c.Stop(3)
	require.NotNil(t, telem)
	assert.Empty(t, telem.Samples)
}

func TestArcCollectorLifecycle(t *testing.T) {
	src := &fakeSource{}
	c := NewArcCollector(ArcCollectorOptions{
		Pool:     "tank",
		HasL2ARC: false,
		Interval: 10 * time.Millisecond,
		Source:   src,
	})
	require.NoError(t, c.Start(1))

	src.writeLine("92.5 17179869184 40.0 55.0 750 250")
	waitFor(t, "warmup sample", func() bool { return c.SampleCount() == 1 })

	c.Segment("seq_read")
	src.writeLine("95.0 17179869184 35.0 60.0 900 100")
	waitFor(t, "segment sample", func() bool { return c.SampleCount() == 2 })

	telem := c.Stop(0)
	require.Len(t, telem.Samples, 2)
	assert.Equal(t, LabelWarmup, telem.Samples[0].SegmentLabel)
	assert.Equal(t, "seq_read", telem.Samples[1].SegmentLabel)
	assert.False(t, telem.HasL2ARC)
	assert.Nil(t, telem.Samples[0].L2ARCHitPct)
}

func TestReservedLabel(t *testing.T) {
	assert.True(t, ReservedLabel(LabelWarmup))
	assert.True(t, ReservedLabel(LabelCooldown))
	assert.False(t, ReservedLabel("seq_read"))
	assert.False(t, ReservedLabel(""))
}
