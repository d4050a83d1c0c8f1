// Package sauceconnect runs the Sauce Connect binary (sc) on a node and
// tracks the tunnels it opened so they can be closed again.
package sauceconnect

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	binaryName          = "sc"
	DefaultStartTimeout = 2 * time.Minute
	DefaultStopTimeout  = 30 * time.Second
)

var ErrBinaryNotFound = errors.New("sauce connect binary not found")

func binaryFileName() string {
	if runtime.GOOS == "windows" {
		return binaryName + ".exe"
	}
	return binaryName
}

// OpenRequest is everything sc needs to bring a tunnel up.
type OpenRequest struct {
	Username     string
	AccessKey    string
	RestEndpoint string
	Port         int
	Options      string
	Verbose      bool
	UseLatest    bool
	BinaryPath   string
}

type Settings struct {
	BinaryPath   string
	CacheDir     string
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Manager opens and closes tunnels on the local node. Tunnels are grouped
// by plan (account plus tunnel identifier); closing a plan stops the most
// recently opened tunnel in it.
type Manager struct {
	settings   Settings
	downloader *Downloader
	lookPath   func(string) (string, error)

	mu      sync.Mutex
	tunnels map[string][]*process
}

func NewManager(settings Settings) *Manager {
	if settings.StartTimeout <= 0 {
		settings.StartTimeout = DefaultStartTimeout
	}
	if settings.StopTimeout <= 0 {
		settings.StopTimeout = DefaultStopTimeout
	}
	return &Manager{
		settings:   settings,
		downloader: NewDownloader(settings.CacheDir),
		lookPath:   exec.LookPath,
		tunnels:    make(map[string][]*process),
	}
}

// Open starts sc and returns once it reports the tunnel is up.
func (m *Manager) Open(ctx context.Context, req OpenRequest) error {
	binary, err := m.resolveBinary(ctx, req)
	if err != nil {
		return err
	}

	key := planKey(req.Username, req.Options)
	argv := buildArgs(binary, req)

	log.Info().
		Str("username", req.Username).
		Int("port", req.Port).
		Str("options", req.Options).
		Msg("Starting Sauce Connect.")

	p, err := startProcess(ctx, key, req.Port, argv, m.settings.StartTimeout)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tunnels[key] = append(m.tunnels[key], p)
	m.mu.Unlock()

	go m.watch(p)
	return nil
}

// watch drops p from the plan table if sc exits on its own.
func (m *Manager) watch(p *process) {
	<-p.done
	if m.forget(p) {
		log.Warn().Err(p.waitErr).Int("port", p.port).Msgf("Sauce Connect exited unexpectedly: %s", p.lastOutput())
	}
}

func (m *Manager) forget(p *process) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	stack := m.tunnels[p.key]
	for i, q := range stack {
		if q == p {
			stack = append(stack[:i], stack[i+1:]...)
			if len(stack) == 0 {
				delete(m.tunnels, p.key)
			} else {
				m.tunnels[p.key] = stack
			}
			return true
		}
	}
	return false
}

func (m *Manager) pop(key string) *process {
	m.mu.Lock()
	defer m.mu.Unlock()

	stack := m.tunnels[key]
	if len(stack) == 0 {
		return nil
	}
	p := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(m.tunnels, key)
	} else {
		m.tunnels[key] = stack[:len(stack)-1]
	}
	return p
}

// CloseTunnelsForPlan stops the most recently opened tunnel for username
// and the identifier carried in options. With no record of such a tunnel
// (for example after an agent restart) matching sc processes on the node
// are stopped instead.
func (m *Manager) CloseTunnelsForPlan(ctx context.Context, username, options string) error {
	key := planKey(username, options)

	if p := m.pop(key); p != nil {
		log.Info().Str("username", username).Int("port", p.port).Msg("Stopping Sauce Connect.")
		return p.terminate(m.settings.StopTimeout)
	}

	identifier := tunnelIdentifier(splitOptions(options))
	n, err := closeOrphans(ctx, username, identifier, m.settings.StopTimeout)
	if err != nil {
		return err
	}
	if n == 0 {
		log.Warn().Str("username", username).Str("identifier", identifier).Msg("No Sauce Connect tunnel found to close.")
	}
	return nil
}

// CloseAll stops every tunnel the manager started.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	var all []*process
	for _, stack := range m.tunnels {
		all = append(all, stack...)
	}
	m.tunnels = make(map[string][]*process)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range all {
		wg.Add(1)
		go func(p *process) {
			defer wg.Done()
			if err := p.terminate(m.settings.StopTimeout); err != nil {
				log.Error().Err(err).Int("port", p.port).Msg("Failed to stop Sauce Connect.")
			}
		}(p)
	}
	wg.Wait()
}

// Active returns the number of running tunnels.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, stack := range m.tunnels {
		n += len(stack)
	}
	return n
}

func (m *Manager) resolveBinary(ctx context.Context, req OpenRequest) (string, error) {
	if req.UseLatest {
		return m.downloader.Latest(ctx, req.RestEndpoint)
	}
	if req.BinaryPath != "" {
		return req.BinaryPath, nil
	}
	if m.settings.BinaryPath != "" {
		return m.settings.BinaryPath, nil
	}
	path, err := m.lookPath(binaryFileName())
	if err != nil {
		return "", fmt.Errorf("%w: set [sauce] binary or enable use-latest", ErrBinaryNotFound)
	}
	return path, nil
}

// buildArgs returns the sc argv: credentials and port first, then the
// caller's options verbatim.
func buildArgs(binary string, req OpenRequest) []string {
	argv := []string{
		binary,
		"-u", req.Username,
		"-k", req.AccessKey,
		"-P", strconv.Itoa(req.Port),
	}
	if req.Verbose {
		argv = append(argv, "-v")
	}
	return append(argv, splitOptions(req.Options)...)
}
