package hypervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
)

// Process is a running hypervisor process for one VM.
type Process struct {
	VMID      string
	APISocket string
	VsockPath string

	cmd    *exec.Cmd
	vmDir  string
	done   chan struct{}
	logOut *os.File
}

func startProcess(cmd *exec.Cmd, vmID, apiSocket, vsockPath, vmDir string) (*Process, error) {
	logPath := vmDir + "/hypervisor.log"
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create hypervisor log: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start hypervisor: %w", err)
	}

	p := &Process{
		VMID:      vmID,
		APISocket: apiSocket,
		VsockPath: vsockPath,
		cmd:       cmd,
		vmDir:     vmDir,
		done:      make(chan struct{}),
		logOut:    logFile,
	}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Alive reports whether the process has not yet exited.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} { return p.done }

// Shutdown terminates the process: SIGTERM first, then SIGKILL when the
// process is still alive at the context deadline. Socket files and the
// per-VM run directory are removed either way.
func (p *Process) Shutdown(ctx context.Context) error {
	if p.Alive() {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Printf("hypervisor: SIGTERM %s: %v", p.VMID, err)
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			log.Printf("hypervisor: %s did not exit gracefully, sending SIGKILL", p.VMID)
			p.Kill()
			<-p.done
		}
	}
	p.cleanup()
	return nil
}

// Kill forcibly terminates the process without waiting.
func (p *Process) Kill() {
	if p.Alive() {
		_ = p.cmd.Process.Kill()
	}
}

func (p *Process) cleanup() {
	os.Remove(p.APISocket)
	os.Remove(p.VsockPath)
	if p.logOut != nil {
		p.logOut.Close()
	}
	os.RemoveAll(p.vmDir)
}
