package sauceconnect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	readyMarker   = "Sauce Connect is up"
	tailLineCount = 5
)

var (
	ErrStartTimeout = errors.New("sauce connect did not come up in time")
	ErrExitedEarly  = errors.New("sauce connect exited before it was ready")
)

// process is one running sc binary.
type process struct {
	key     string
	port    int
	cmd     *exec.Cmd
	ready   chan struct{}
	scanned chan struct{}
	done    chan struct{}
	waitErr error

	mu   sync.Mutex
	tail []string
}

// startProcess launches argv and blocks until the tunnel reports readiness.
// The process is not bound to ctx: it must outlive the call that opened it.
func startProcess(ctx context.Context, key string, port int, argv []string, startTimeout time.Duration) (*process, error) {
	p := &process{
		key:   key,
		port:  port,
		cmd:   exec.Command(argv[0], argv[1:]...),
		ready:   make(chan struct{}),
		scanned: make(chan struct{}),
		done:    make(chan struct{}),
	}

	pr, pw := io.Pipe()
	p.cmd.Stdout = pw
	p.cmd.Stderr = pw

	if err := p.cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	log.Info().Int("pid", p.cmd.Process.Pid).Int("port", port).Msg("Sauce Connect process started.")

	go p.scan(pr)
	go func() {
		p.waitErr = p.cmd.Wait()
		_ = pw.Close()
		// the last lines explain an early exit
		<-p.scanned
		close(p.done)
	}()

	timer := time.NewTimer(startTimeout)
	defer timer.Stop()

	select {
	case <-p.ready:
		return p, nil
	case <-p.done:
		return nil, fmt.Errorf("%w: %s", ErrExitedEarly, p.lastOutput())
	case <-timer.C:
		p.kill()
		return nil, fmt.Errorf("%w after %s: %s", ErrStartTimeout, startTimeout, p.lastOutput())
	case <-ctx.Done():
		p.kill()
		return nil, ctx.Err()
	}
}

// scan forwards process output to the node log and watches for the
// readiness line. It keeps draining after readiness so the process never
// blocks on a full pipe.
func (p *process) scan(r io.Reader) {
	defer close(p.scanned)
	scanner := bufio.NewScanner(r)
	signalled := false
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug().Int("port", p.port).Msg(line)

		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > tailLineCount {
			p.tail = p.tail[len(p.tail)-tailLineCount:]
		}
		p.mu.Unlock()

		if !signalled && strings.Contains(line, readyMarker) {
			signalled = true
			close(p.ready)
		}
	}
}

func (p *process) lastOutput() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tail) == 0 {
		return "no output"
	}
	return strings.Join(p.tail, " | ")
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) kill() {
	_ = p.cmd.Process.Kill()
	<-p.done
}

// terminate asks sc to shut down with SIGTERM and kills it if it is still
// running after timeout.
func (p *process) terminate(timeout time.Duration) error {
	if p.exited() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Debug().Err(err).Msg("SIGTERM failed, killing sauce connect.")
		p.kill()
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
	}

	log.Warn().Int("pid", p.cmd.Process.Pid).Msg("Sauce Connect did not stop after SIGTERM, killing it.")
	if err := p.cmd.Process.Kill(); err != nil && !p.exited() {
		return fmt.Errorf("failed to kill sauce connect: %w", err)
	}
	<-p.done
	return nil
}
