package sitl

import (
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// ProcessTable is the view of the host process table Teardown needs.
type ProcessTable interface {
	PIDs() ([]int, error)
	Environ(pid int) ([]string, error)
	Signal(pid int, sig unix.Signal) error
	Alive(pid int) bool
}

// ProcTable reads /proc through procfs and signals with kill(2).
type ProcTable struct {
	fs procfs.FS
}

var _ ProcessTable = (*ProcTable)(nil)

// NewProcTable opens the default /proc mount.
func NewProcTable() (*ProcTable, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &ProcTable{fs: fs}, nil
}

func (t *ProcTable) PIDs() ([]int, error) {
	procs, err := t.fs.AllProcs()
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(procs))
	for _, p := range procs {
		pids = append(pids, p.PID)
	}
	return pids, nil
}

func (t *ProcTable) Environ(pid int) ([]string, error) {
	p, err := t.fs.Proc(pid)
	if err != nil {
		return nil, err
	}
	return p.Environ()
}

func (t *ProcTable) Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// Alive reports whether pid exists and is not a zombie.
func (t *ProcTable) Alive(pid int) bool {
	p, err := t.fs.Proc(pid)
	if err != nil {
		return false
	}
	stat, err := p.Stat()
	if err != nil {
		return false
	}
	return stat.State != "Z" && stat.State != "X"
}
