package executor

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgvOrdering(t *testing.T) {
	e := New("sudo", 5*time.Second, logrus.New())

	first := e.Argv(Command{Program: "ovs-vsctl", Args: []string{"add-br", "kbr-r1"}, Order: FlagsFirst})
	assert.Equal(t, []string{"sudo", "ovs-vsctl", "--timeout=5", "-vconsole:off", "add-br", "kbr-r1"}, first)

	last := e.Argv(Command{Program: "pipework", Args: []string{"kbr-r1", "-i", "eth1"}, Order: FlagsLast})
	assert.Equal(t, []string{"sudo", "pipework", "kbr-r1", "-i", "eth1", "--timeout=5", "-vconsole:off"}, last)
}

func TestArgvWithoutPrivilege(t *testing.T) {
	e := New("none", 3*time.Second, logrus.New())

	argv := e.Argv(Command{Program: "ovs-vsctl", Args: []string{"list-br"}})
	assert.Equal(t, []string{"ovs-vsctl", "--timeout=3", "-vconsole:off", "list-br"}, argv)
}

func TestRunTrimsOutput(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not found")
	}
	e := New("", 5*time.Second, logrus.New())

	// echo prints the common flags too; only trimming is under test here.
	out, err := e.Run(context.Background(), Command{Program: "echo", Args: []string{"  br0  "}, Order: FlagsFirst})
	require.NoError(t, err)
	assert.Equal(t, "--timeout=5 -vconsole:off br0", out)
}

func TestRunNonZeroExit(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not found")
	}
	e := New("", 5*time.Second, logrus.New())

	_, err := e.Run(context.Background(), Command{Program: "false"})
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Equal(t, []string{"false", "--timeout=5", "-vconsole:off"}, execErr.Command)
	assert.Contains(t, err.Error(), "exited with status 1")
}

func TestLines(t *testing.T) {
	assert.Equal(t, []string{"br-int", "kbr-r1"}, Lines("br-int\n\nkbr-r1\n"))
	assert.Empty(t, Lines(""))
}
