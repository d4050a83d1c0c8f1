//go:build unix

package sauceconnect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	readyScript = `#!/bin/sh
echo "Starting up"
echo "Sauce Connect is up, you may start your tests."
exec sleep 30
`
	failingScript = `#!/bin/sh
echo "Unable to authenticate."
echo "Goodbye."
exit 1
`
	stubbornScript = `#!/bin/sh
trap '' TERM
echo "Sauce Connect is up, you may start your tests."
while :; do sleep 0.1; done
`
)

func writeFakeSC(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sc")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func newTestManager(binary string) *Manager {
	return NewManager(Settings{
		BinaryPath:   binary,
		StartTimeout: 5 * time.Second,
		StopTimeout:  2 * time.Second,
	})
}

func openRequest(port int, options string) OpenRequest {
	return OpenRequest{
		Username:     "alice",
		AccessKey:    "secret",
		RestEndpoint: "https://saucelabs.com/",
		Port:         port,
		Options:      options,
	}
}

func TestManagerOpenClose(t *testing.T) {
	m := newTestManager(writeFakeSC(t, readyScript))
	ctx := context.Background()
	options := "--tunnel-identifier job-1 -x https://saucelabs.com/rest/v1"

	require.NoError(t, m.Open(ctx, openRequest(4445, options)))
	assert.Equal(t, 1, m.Active())

	p := m.tunnels[planKey("alice", options)][0]
	require.NoError(t, m.CloseTunnelsForPlan(ctx, "alice", options))
	assert.Equal(t, 0, m.Active())
	assert.True(t, p.exited())
}

func TestManagerOpenExitEarly(t *testing.T) {
	m := newTestManager(writeFakeSC(t, failingScript))

	err := m.Open(context.Background(), openRequest(4445, ""))
	require.ErrorIs(t, err, ErrExitedEarly)
	assert.Contains(t, err.Error(), "Goodbye.")
	assert.Equal(t, 0, m.Active())
}

func TestStartProcessKeepsExitReason(t *testing.T) {
	sc := writeFakeSC(t, failingScript)

	for i := 0; i < 20; i++ {
		_, err := startProcess(context.Background(), "alice", 4445, []string{sc}, 5*time.Second)
		require.ErrorIs(t, err, ErrExitedEarly)
		assert.Contains(t, err.Error(), "Unable to authenticate. | Goodbye.", "attempt %d", i)
	}
}

func TestManagerOpenTimeout(t *testing.T) {
	m := newTestManager(writeFakeSC(t, "#!/bin/sh\nexec sleep 30\n"))
	m.settings.StartTimeout = 200 * time.Millisecond

	start := time.Now()
	err := m.Open(context.Background(), openRequest(4445, ""))
	assert.ErrorIs(t, err, ErrStartTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, m.Active())
}

func TestManagerOpenCancelled(t *testing.T) {
	m := newTestManager(writeFakeSC(t, "#!/bin/sh\nexec sleep 30\n"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := m.Open(ctx, openRequest(4445, ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerClosesMostRecentFirst(t *testing.T) {
	m := newTestManager(writeFakeSC(t, readyScript))
	ctx := context.Background()
	options := "--tunnel-identifier shared"

	require.NoError(t, m.Open(ctx, openRequest(4445, options)))
	require.NoError(t, m.Open(ctx, openRequest(4446, options)))
	assert.Equal(t, 2, m.Active())

	require.NoError(t, m.CloseTunnelsForPlan(ctx, "alice", options))
	require.Equal(t, 1, m.Active())
	assert.Equal(t, 4445, m.tunnels[planKey("alice", options)][0].port)

	m.CloseAll()
	assert.Equal(t, 0, m.Active())
}

func TestManagerKillsStubbornProcess(t *testing.T) {
	m := newTestManager(writeFakeSC(t, stubbornScript))
	m.settings.StopTimeout = 200 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, openRequest(4445, "")))
	p := m.tunnels[planKey("alice", "")][0]

	require.NoError(t, m.CloseTunnelsForPlan(ctx, "alice", ""))
	assert.True(t, p.exited())
}

func TestManagerForgetsCrashedTunnel(t *testing.T) {
	m := newTestManager(writeFakeSC(t, "#!/bin/sh\necho 'Sauce Connect is up'\nsleep 0.2\n"))

	require.NoError(t, m.Open(context.Background(), openRequest(4445, "")))
	assert.Eventually(t, func() bool { return m.Active() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestManagerBinaryNotFound(t *testing.T) {
	m := NewManager(Settings{})
	m.lookPath = func(string) (string, error) { return "", os.ErrNotExist }

	err := m.Open(context.Background(), openRequest(4445, ""))
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestManagerRequestBinaryOverridesSettings(t *testing.T) {
	m := newTestManager("/nonexistent/sc")
	req := openRequest(4445, "")
	req.BinaryPath = writeFakeSC(t, readyScript)

	require.NoError(t, m.Open(context.Background(), req))
	m.CloseAll()
}
