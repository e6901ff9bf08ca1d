// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package subprocess

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/bureau-foundation/linebridge/lib/clock"
)

// DefaultTerminateGrace is how long Terminate waits after SIGTERM
// before sending SIGKILL.
const DefaultTerminateGrace = 5 * time.Second

// Options configures Start.
type Options struct {
	// Args is the command and its arguments. The command is resolved
	// through PATH.
	Args []string

	// PTY runs the child on a pseudo-terminal instead of pipes.
	PTY bool

	// Env is the child's environment. Nil inherits the parent's.
	Env []string

	// Logger receives lifecycle events. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Clock times the Terminate grace period. Default: clock.Real().
	Clock clock.Clock
}

// Child is a running child process and the parent's ends of its
// standard streams.
type Child struct {
	command *exec.Cmd
	pty     bool
	logger  *slog.Logger
	clock   clock.Clock

	// Pipe mode: stdout is read, stdin is written. PTY mode: both
	// refer to the master.
	stdout *os.File
	stdin  *os.File

	signals chan os.Signal
	stopped chan struct{}

	// exited is closed once Wait has reaped the child.
	exited chan struct{}
}

// Start launches the child.
func Start(options Options) (*Child, error) {
	if len(options.Args) == 0 {
		return nil, fmt.Errorf("subprocess: no command given")
	}
	path, err := exec.LookPath(options.Args[0])
	if err != nil {
		return nil, fmt.Errorf("subprocess: command not found: %s: %w", options.Args[0], err)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	childClock := options.Clock
	if childClock == nil {
		childClock = clock.Real()
	}

	command := exec.Command(path, options.Args[1:]...)
	command.Env = options.Env
	command.Stderr = os.Stderr

	child := &Child{
		command: command,
		pty:     options.PTY,
		logger:  logger,
		clock:   childClock,
		exited:  make(chan struct{}),
	}
	if options.PTY {
		err = child.startPTY()
	} else {
		err = child.startPipes()
	}
	if err != nil {
		return nil, err
	}

	child.forwardSignals()
	logger.Info("child started",
		"command", options.Args[0],
		"pid", command.Process.Pid,
		"pty", options.PTY,
	)
	return child, nil
}

func (c *Child) startPipes() error {
	stdinReader, stdinWriter, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("subprocess: creating stdin pipe: %w", err)
	}
	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		stdinReader.Close()
		stdinWriter.Close()
		return fmt.Errorf("subprocess: creating stdout pipe: %w", err)
	}

	c.command.Stdin = stdinReader
	c.command.Stdout = stdoutWriter
	startErr := c.command.Start()

	// The child holds its own copies now.
	stdinReader.Close()
	stdoutWriter.Close()

	if startErr != nil {
		stdinWriter.Close()
		stdoutReader.Close()
		return fmt.Errorf("subprocess: starting %s: %w", c.command.Path, startErr)
	}
	c.stdin = stdinWriter
	c.stdout = stdoutReader
	return nil
}

func (c *Child) startPTY() error {
	master, slave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("subprocess: opening pseudo-terminal: %w", err)
	}
	defer slave.Close()

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		master.Close()
		return fmt.Errorf("subprocess: setting raw mode: %w", err)
	}

	c.command.Stdin = slave
	c.command.Stdout = slave
	c.command.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	if err := c.command.Start(); err != nil {
		master.Close()
		return fmt.Errorf("subprocess: starting %s: %w", c.command.Path, err)
	}
	c.stdin = master
	c.stdout = master
	return nil
}

func (c *Child) forwardSignals() {
	c.signals = make(chan os.Signal, 1)
	c.stopped = make(chan struct{})
	signal.Notify(c.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case received := <-c.signals:
				c.logger.Info("forwarding signal to child", "signal", received.String())
				c.command.Process.Signal(received)
			case <-c.stopped:
				return
			}
		}
	}()
}

// PTY reports whether the child runs on a pseudo-terminal. A pty
// master reports EIO, not end of file, once the child has exited.
func (c *Child) PTY() bool { return c.pty }

// Pid returns the child's process ID.
func (c *Child) Pid() int { return c.command.Process.Pid }

// ReadFD returns the descriptor carrying the child's output.
func (c *Child) ReadFD() int { return int(c.stdout.Fd()) }

// WriteFD returns the descriptor feeding the child's input. In PTY
// mode it equals ReadFD.
func (c *Child) WriteFD() int { return int(c.stdin.Fd()) }

// CloseWrite closes the child's input so it reads end of file. In PTY
// mode the master is shared with the output side and stays open.
func (c *Child) CloseWrite() error {
	if c.pty || c.stdin == nil {
		return nil
	}
	err := c.stdin.Close()
	c.stdin = nil
	return err
}

// Terminate ends a child the bridge can no longer serve. It closes the
// parent's descriptors (a pty child sees a hangup, a pipe child sees
// end of input and a broken output pipe), sends SIGTERM, and sends
// SIGKILL if the child has not been reaped by Wait within grace. Call
// Wait afterwards to collect the exit status.
func (c *Child) Terminate(grace time.Duration) {
	c.closeFiles()
	if err := c.command.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited; Wait reaps it.
		return
	}
	pid := c.command.Process.Pid
	c.logger.Info("terminating child", "pid", pid, "grace", grace.String())
	go func() {
		select {
		case <-c.exited:
		case <-c.clock.After(grace):
			c.logger.Warn("child still running after SIGTERM, killing", "pid", pid)
			c.command.Process.Kill()
		}
	}()
}

// Wait waits for the child to exit, stops signal forwarding, closes
// the parent's descriptors, and returns the exit code. A child killed
// by a signal reports 128 plus the signal number, as shells do. err is
// non-nil only if waiting itself failed.
func (c *Child) Wait() (int, error) {
	waitErr := c.command.Wait()
	close(c.exited)

	signal.Stop(c.signals)
	close(c.stopped)
	c.closeFiles()

	if waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return -1, fmt.Errorf("subprocess: waiting for child: %w", waitErr)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		c.logger.Info("child killed by signal", "signal", status.Signal().String())
		return 128 + int(status.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}

func (c *Child) closeFiles() {
	if c.stdout != nil {
		c.stdout.Close()
	}
	if c.stdin != nil && c.stdin != c.stdout {
		c.stdin.Close()
	}
	c.stdout, c.stdin = nil, nil
}
