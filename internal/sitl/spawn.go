package sitl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/logging"
	"github.com/Project-GrADyS/uav-api/internal/metrics"
)

// TagEnv is the environment variable carrying the supervisor tag.
const TagEnv = "UAV_API_SITL_TAG"

// scriptPath is sim_vehicle.py relative to the ArduPilot checkout.
const scriptPath = "Tools/autotest/sim_vehicle.py"

// ErrSpawn is returned when the simulator could not be started.
var ErrSpawn = errors.New("sitl: spawn failed")

// Tag returns the deterministic tag for a vehicle's simulator tree.
func Tag(sysid int) string {
	return "uavapi-sitl-" + strconv.Itoa(sysid)
}

// Params describes one simulator instance.
type Params struct {
	SystemID      int
	ArdupilotPath string
	Location      string
	Speedup       int
	Outputs       []string // --out targets, the bridge first
	LogDir        string
	Terminal      []string // optional wrapper such as "xterm -e"
}

// NewParams derives simulator parameters; uavOut is the address the
// bridge link listens on, empty when the bridge dials the simulator.
func NewParams(cfg *config.Config, uavOut string) Params {
	var outputs []string
	if uavOut != "" {
		outputs = append(outputs, uavOut)
	}
	outputs = append(outputs, cfg.SITL.GSOutputs...)
	return Params{
		SystemID:      cfg.Vehicle.SystemID,
		ArdupilotPath: cfg.SITL.ArdupilotPath,
		Location:      cfg.SITL.Location,
		Speedup:       cfg.SITL.Speedup,
		Outputs:       outputs,
		LogDir:        cfg.SITL.LogDir,
		Terminal:      cfg.SITL.Terminal,
	}
}

// Command returns the full argv for p, wrapper included.
func Command(p Params) []string {
	script := filepath.Join(expandHome(p.ArdupilotPath), scriptPath)
	sysid := strconv.Itoa(p.SystemID)

	argv := append([]string{}, p.Terminal...)
	argv = append(argv, script,
		"-v", "ArduCopter",
		"-I", sysid,
		"--sysid", sysid,
		"-N",
		"-L", p.Location,
		"--speedup", strconv.Itoa(p.Speedup),
	)
	for _, out := range p.Outputs {
		argv = append(argv, "--out", out)
	}
	return append(argv, "--use-dir="+expandHome(p.LogDir))
}

// ProcessRecord is a started simulator.
type ProcessRecord struct {
	Tag       string
	PID       int
	Args      []string
	StartedAt time.Time

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Done is closed once the direct child has exited and been reaped.
func (r *ProcessRecord) Done() <-chan struct{} {
	return r.done
}

// Err is the child's exit error, valid after Done.
func (r *ProcessRecord) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Supervisor starts and tears down simulators.
type Supervisor struct {
	table   ProcessTable
	grace   time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSupervisor creates a supervisor over table. A nil table means the
// host's /proc.
func NewSupervisor(table ProcessTable, grace time.Duration, m *metrics.Metrics, logger *slog.Logger) (*Supervisor, error) {
	if table == nil {
		t, err := NewProcTable()
		if err != nil {
			return nil, err
		}
		table = t
	}
	return &Supervisor{
		table:   table,
		grace:   grace,
		metrics: m,
		logger:  logging.OrDiscard(logger).With("component", "sitl"),
	}, nil
}

// Spawn starts the simulator in its own process group and returns once the
// process is running. The child is reaped in the background.
func (s *Supervisor) Spawn(ctx context.Context, p Params) (*ProcessRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.LogDir != "" {
		if err := os.MkdirAll(expandHome(p.LogDir), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create log dir: %v", ErrSpawn, err)
		}
	}

	argv := Command(p)
	tag := Tag(p.SystemID)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), TagEnv+"="+tag)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, argv[0], err)
	}

	rec := &ProcessRecord{
		Tag:       tag,
		PID:       cmd.Process.Pid,
		Args:      argv,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		rec.mu.Lock()
		rec.err = err
		rec.mu.Unlock()
		close(rec.done)
		s.logger.Info("simulator exited", "pid", rec.PID, "error", err)
	}()

	s.logger.Info("simulator started", "pid", rec.PID, "tag", tag, "command", strings.Join(argv, " "))
	return rec, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
