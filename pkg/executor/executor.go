// Package executor runs the privileged command-line tools the router daemon
// drives (ovs-vsctl, pipework) and turns their exit status into errors.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Order selects where the common timeout and verbosity flags are placed.
type Order int

const (
	// FlagsFirst places the common flags right after the program name.
	FlagsFirst Order = iota
	// FlagsLast appends the common flags after the tool arguments.
	FlagsLast
)

// QuietFlag silences console logging of the OVS tools.
const QuietFlag = "-vconsole:off"

// Command is a single external tool invocation.
type Command struct {
	Program string
	Args    []string
	Order   Order
}

func (c Command) String() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}

// Runner executes commands and returns their trimmed standard output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExecutionError reports a command that exited unsuccessfully.
type ExecutionError struct {
	Command  []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", strings.Join(e.Command, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Executor runs commands as local processes, optionally through a privilege
// helper such as sudo.
type Executor struct {
	privilege string
	timeout   time.Duration
	logger    *logrus.Logger
}

// New creates an Executor. An empty or "none" privilege runs programs directly.
func New(privilege string, timeout time.Duration, logger *logrus.Logger) *Executor {
	if privilege == "none" {
		privilege = ""
	}
	return &Executor{
		privilege: privilege,
		timeout:   timeout,
		logger:    logger,
	}
}

// Argv builds the full argument vector for cmd, including the privilege
// helper and the common flags in the position cmd.Order asks for.
func (e *Executor) Argv(cmd Command) []string {
	flags := []string{fmt.Sprintf("--timeout=%d", int(e.timeout/time.Second)), QuietFlag}

	var argv []string
	if e.privilege != "" {
		argv = append(argv, e.privilege)
	}
	argv = append(argv, cmd.Program)
	switch cmd.Order {
	case FlagsLast:
		argv = append(argv, cmd.Args...)
		argv = append(argv, flags...)
	default:
		argv = append(argv, flags...)
		argv = append(argv, cmd.Args...)
	}
	return argv
}

// Run executes cmd and returns its trimmed standard output.
func (e *Executor) Run(ctx context.Context, cmd Command) (string, error) {
	argv := e.Argv(cmd)

	// The tools enforce their own timeout; the context deadline only catches
	// a tool that ignores it.
	ctx, cancel := context.WithTimeout(ctx, e.timeout+2*time.Second)
	defer cancel()

	e.logger.Debugf("Executing: %s", strings.Join(argv, " "))

	proc := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	if err := proc.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &ExecutionError{
			Command:  argv,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Lines splits newline separated tool output, dropping blank lines.
func Lines(output string) []string {
	lines := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
