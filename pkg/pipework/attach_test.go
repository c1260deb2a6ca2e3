package pipework

import (
	"context"
	"errors"
	"testing"

	"github.com/ovs-container-lab/ovs-router/pkg/config"
	"github.com/ovs-container-lab/ovs-router/pkg/executor"
	"github.com/ovs-container-lab/ovs-router/pkg/ovs"
	"github.com/ovs-container-lab/ovs-router/pkg/ovs/ovstest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAttacher() (*Attacher, *ovstest.Switch) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	sw := ovstest.NewSwitch()
	bridges := ovs.NewClient(sw, "", cfg.Router.BridgePrefix, logrus.New())
	return NewAttacher(sw, bridges, "", cfg.Router, logrus.New()), sw
}

func TestCommand(t *testing.T) {
	a, _ := newTestAttacher()

	cmd := a.Command("router-200")
	assert.Equal(t, "pipework", cmd.Program)
	assert.Equal(t, executor.FlagsLast, cmd.Order)
	assert.Equal(t, []string{"kbr-router-200", "-i", "eth1", "-l", "router-200", "router-200", "172.40.0.1/24", "fa:00:00:00:00:01"}, cmd.Args)
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	a, sw := newTestAttacher()
	sw.AddBridge("kbr-router-200")

	ran, err := a.Attach(ctx, "router-200")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"router-200"}, sw.Ports("kbr-router-200"))

	ran, err = a.Attach(ctx, "router-200")
	require.NoError(t, err)
	assert.False(t, ran, "second attach should find the port already present")
	assert.Len(t, sw.Mutations(), 1)
}

func TestAttachWithoutBridge(t *testing.T) {
	a, sw := newTestAttacher()

	_, err := a.Attach(context.Background(), "router-200")
	require.Error(t, err)

	var execErr *executor.ExecutionError
	assert.True(t, errors.As(err, &execErr))
	assert.Empty(t, sw.Mutations())
}

func TestAttachFailure(t *testing.T) {
	a, sw := newTestAttacher()
	sw.AddBridge("kbr-router-200")
	sw.FailOn["pipework"] = true

	_, err := a.Attach(context.Background(), "router-200")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to attach router-200 to bridge kbr-router-200")
}
