package channel

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

const processExitTimeout = 5 * time.Second

// Process is a Stream whose peer is a child process running Serve on its
// stdin and stdout.
type Process struct {
	*Stream
	cmd *exec.Cmd

	once     sync.Once
	closeErr error
}

// CommandFactory returns a Factory that starts one child process per
// channel. build must return a fresh, unstarted command each call; the
// child's stderr is left as configured by build.
func CommandFactory(build func() *exec.Cmd) Factory {
	return func() (Channel, error) {
		return StartProcess(build())
	}
}

// StartProcess starts cmd and connects a Stream to its stdin and stdout.
func StartProcess(cmd *exec.Cmd) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("channel: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("channel: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("channel: start %s: %w", cmd.Path, err)
	}

	return &Process{Stream: NewStream(stdout, stdin), cmd: cmd}, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Close closes the child's stdin, which makes Serve return, and waits for
// the child to exit. A child that outlives processExitTimeout is killed.
func (p *Process) Close() error {
	p.once.Do(func() { p.closeErr = p.close() })
	return p.closeErr
}

func (p *Process) close() error {
	err := p.Stream.Close()
	exited := make(chan error, 1)
	go func() { exited <- p.cmd.Wait() }()
	select {
	case werr := <-exited:
		var exitErr *exec.ExitError
		if werr != nil && !errors.As(werr, &exitErr) {
			err = errors.Join(err, werr)
		}
	case <-time.After(processExitTimeout):
		_ = p.cmd.Process.Kill()
		<-exited
	}
	return err
}
