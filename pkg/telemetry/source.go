package telemetry

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrSourceUnavailable is returned by Start when the external statistics
// tool cannot be spawned at all. The benchmark is expected to proceed
// without this telemetry stream.
var ErrSourceUnavailable = errors.New("telemetry source unavailable")

// Source produces the line stream of one external statistics tool.
// Implementations must be restartable (Open after Terminate spawns a
// fresh child) and must tolerate concurrent Terminate calls: the polling
// loop and the driver's stop path both tear the child down.
type Source interface {
	// Open spawns the tool and returns its output stream.
	Open() (io.ReadCloser, error)
	// Terminate kills the child and reaps it. Safe to call when not open
	// and safe to call from multiple goroutines.
	Terminate()
	// Name identifies the source in logs.
	Name() string
}

// execSource runs a command in its own process group so Terminate can
// take down the whole group, not just the direct child. mu guards the
// handle to the current child: the loop's deferred cleanup, the restart
// path and the driver's stop all race to Terminate.
type execSource struct {
	argv []string

	mu  sync.Mutex
	cmd *exec.Cmd
	out io.ReadCloser
}

func newExecSource(argv []string) *execSource {
	return &execSource{argv: argv}
}

func (s *execSource) Name() string { return s.argv[0] }

func (s *execSource) Open() (io.ReadCloser, error) {
	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "spawning %q: %v", s.argv[0], err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.out = stdout
	s.mu.Unlock()
	return stdout, nil
}

func (s *execSource) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, out := s.cmd, s.out
	s.cmd, s.out = nil, nil
	if cmd == nil || cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid

	// Graceful first, then force. The negative pid targets the group.
	_ = unix.Kill(-pgid, unix.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = unix.Kill(-pgid, unix.SIGKILL)
		<-done
	}

	_ = out.Close()
}

// readLines feeds each output line to handle until the stream ends.
func readLines(r io.Reader, handle func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		handle(scanner.Text())
	}
	return scanner.Err()
}
