package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFilename = "forkline.pid"

// ErrAlreadyRunning is returned by Acquire when the PID file names another
// live process.
var ErrAlreadyRunning = errors.New("forkline is already running")

// PIDFile guards a data directory against two forkline instances serving
// from it at once.
type PIDFile struct {
	path string
	pid  int
}

// NewPIDFile returns the PID file for dataDir, owned by the current process.
func NewPIDFile(dataDir string) *PIDFile {
	return &PIDFile{path: filepath.Join(dataDir, pidFilename), pid: os.Getpid()}
}

// Path returns the location of the file.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire records the current process. A file left by a process that has
// exited is replaced; one naming a live process other than this one fails
// with ErrAlreadyRunning. The file is written to a temporary name and
// renamed into place so readers never see a partial PID.
func (p *PIDFile) Acquire() error {
	if pid, running := p.Running(); running && pid != p.pid {
		return fmt.Errorf("%w (PID %d, %s)", ErrAlreadyRunning, pid, p.path)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data directory for PID file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, pidFilename+".*")
	if err != nil {
		return fmt.Errorf("creating PID file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(p.pid) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing PID file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("setting PID file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing PID file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("installing PID file %s: %w", p.path, err)
	}
	return nil
}

// Release removes the file if it still names this process. A missing file,
// or one taken over by another instance, is left alone.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && pid != p.pid {
		return nil
	}
	return p.Remove()
}

// Remove deletes the file whatever it contains. A missing file is not an
// error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing PID file %s: %w", p.path, err)
	}
	return nil
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file %s: %w", p.path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing PID from %s: %w", p.path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID %d in %s", pid, p.path)
	}
	return pid, nil
}

// Running returns the recorded PID and whether that process is alive.
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

// processAlive sends signal 0, which checks existence without delivering
// anything.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
