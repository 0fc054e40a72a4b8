package sitl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Project-GrADyS/uav-api/internal/wait"
)

// ErrPartialTeardown means at least one tagged process survived SIGKILL.
var ErrPartialTeardown = errors.New("sitl: partial teardown")

// pollInterval is how often Teardown re-checks survivors.
const pollInterval = 50 * time.Millisecond

// Report summarizes a teardown.
type Report struct {
	Matched int `json:"matched"`
	Killed  int `json:"killed"`
	Skipped int `json:"skipped"` // processes whose environment could not be read
	Failed  int `json:"failed"`
}

// Teardown terminates every process tagged with tag: SIGTERM first, then
// SIGKILL for whatever is still alive after the grace period.
func (s *Supervisor) Teardown(ctx context.Context, tag string) (Report, error) {
	var report Report

	pids, err := s.table.PIDs()
	if err != nil {
		return report, fmt.Errorf("list processes: %w", err)
	}

	self := os.Getpid()
	var matched []int
	for _, pid := range pids {
		if pid == self {
			continue
		}
		env, err := s.table.Environ(pid)
		if err != nil {
			report.Skipped++
			s.metrics.TeardownProcess("skipped")
			continue
		}
		if hasTag(env, tag) {
			matched = append(matched, pid)
		}
	}
	report.Matched = len(matched)
	if len(matched) == 0 {
		s.logger.Info("no simulator processes found", "tag", tag, "skipped", report.Skipped)
		return report, nil
	}

	for _, pid := range matched {
		if err := s.table.Signal(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			s.logger.Warn("SIGTERM failed", "pid", pid, "error", err)
		}
	}

	survivors, _ := s.awaitExit(ctx, matched, s.grace)
	for _, pid := range survivors {
		s.logger.Warn("process ignored SIGTERM, killing", "pid", pid)
		if err := s.table.Signal(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			s.logger.Warn("SIGKILL failed", "pid", pid, "error", err)
		}
	}
	if len(survivors) > 0 {
		survivors, _ = s.awaitExit(ctx, survivors, s.grace)
	}

	report.Failed = len(survivors)
	report.Killed = report.Matched - report.Failed
	for i := 0; i < report.Killed; i++ {
		s.metrics.TeardownProcess("killed")
	}
	for i := 0; i < report.Failed; i++ {
		s.metrics.TeardownProcess("failed")
	}

	s.logger.Info("simulator teardown complete", "tag", tag,
		"matched", report.Matched, "killed", report.Killed,
		"skipped", report.Skipped, "failed", report.Failed)

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d processes still alive", ErrPartialTeardown, report.Failed, report.Matched)
	}
	return report, nil
}

// awaitExit waits until none of pids is alive and returns the survivors.
func (s *Supervisor) awaitExit(ctx context.Context, pids []int, timeout time.Duration) ([]int, error) {
	alive := func() ([]int, bool) {
		var out []int
		for _, pid := range pids {
			if s.table.Alive(pid) {
				out = append(out, pid)
			}
		}
		return out, true
	}
	return wait.Until(ctx, alive, func(left []int) bool { return len(left) == 0 },
		wait.Policy{Interval: pollInterval, Timeout: timeout})
}

func hasTag(env []string, tag string) bool {
	want := TagEnv + "=" + tag
	for _, kv := range env {
		if strings.TrimRight(kv, "\x00") == want {
			return true
		}
	}
	return false
}
