package sauceconnect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	psprocess "github.com/shirou/gopsutil/v4/process"
)

const orphanPollInterval = 100 * time.Millisecond

// findOrphans lists running sc processes started for username and
// identifier that this manager has no record of, such as tunnels left behind
// by a previous agent.
func findOrphans(ctx context.Context, username, identifier string) ([]*psprocess.Process, error) {
	procs, err := psprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	var matches []*psprocess.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(cmdline) == 0 {
			// gone already, or not ours to read
			continue
		}
		if matchesPlan(cmdline, username, identifier) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// terminateOrphan sends SIGTERM and kills p if it outlives timeout.
func terminateOrphan(ctx context.Context, p *psprocess.Process, timeout time.Duration) error {
	if err := p.TerminateWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return nil
		}
		return fmt.Errorf("failed to terminate pid %d: %w", p.Pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 && st[0] == psprocess.Zombie {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(orphanPollInterval):
		}
	}

	log.Warn().Int32("pid", p.Pid).Msg("Sauce Connect did not stop after SIGTERM, killing it.")
	if err := p.KillWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); running {
			return fmt.Errorf("failed to kill pid %d: %w", p.Pid, err)
		}
	}
	return nil
}

func closeOrphans(ctx context.Context, username, identifier string, timeout time.Duration) (int, error) {
	orphans, err := findOrphans(ctx, username, identifier)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, p := range orphans {
		log.Info().Int32("pid", p.Pid).Msg("Stopping Sauce Connect process found on the node.")
		if err := terminateOrphan(ctx, p, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return len(orphans), errors.Join(errs...)
}
