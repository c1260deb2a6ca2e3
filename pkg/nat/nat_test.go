package nat

import (
	"context"
	"errors"
	"testing"

	"github.com/ovs-container-lab/ovs-router/pkg/config"
	"github.com/ovs-container-lab/ovs-router/pkg/container"
	"github.com/ovs-container-lab/ovs-router/pkg/container/containertest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masquerade = "-t nat POSTROUTING -o eth0 -j MASQUERADE"

func newTestConfigurator(check bool) (*Configurator, *containertest.Engine) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	engine := containertest.NewEngine(cfg.Router.Image)
	runtime := container.NewManager(engine, cfg.Router, logrus.New())
	return NewConfigurator(runtime, cfg.Router.PrimaryIface, check, logrus.New()), engine
}

func TestConfigureNAT(t *testing.T) {
	c, engine := newTestConfigurator(false)
	engine.Add("router-200", true)

	dispatched, err := c.ConfigureNAT(context.Background(), "router-200")
	require.NoError(t, err)
	assert.True(t, dispatched)

	execs := engine.Execs()
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Detach)
	assert.Equal(t, []string{"iptables", "-t", "nat", "-A", "POSTROUTING", "-o", "eth0", "-j", "MASQUERADE"}, execs[0].Cmd)
}

func TestConfigureNATContainerMissing(t *testing.T) {
	c, engine := newTestConfigurator(false)

	dispatched, err := c.ConfigureNAT(context.Background(), "router-200")
	require.NoError(t, err)
	assert.False(t, dispatched)
	assert.Empty(t, engine.Execs())
}

func TestConfigureNATAppendsDuplicates(t *testing.T) {
	ctx := context.Background()
	c, engine := newTestConfigurator(false)
	engine.Add("router-200", true)

	for i := 0; i < 2; i++ {
		_, err := c.ConfigureNAT(ctx, "router-200")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{masquerade, masquerade}, engine.Rules("router-200"))
}

func TestConfigureNATCheckExisting(t *testing.T) {
	ctx := context.Background()
	c, engine := newTestConfigurator(true)
	engine.Add("router-200", true)

	dispatched, err := c.ConfigureNAT(ctx, "router-200")
	require.NoError(t, err)
	assert.True(t, dispatched)

	dispatched, err = c.ConfigureNAT(ctx, "router-200")
	require.NoError(t, err)
	assert.False(t, dispatched)
	assert.Equal(t, []string{masquerade}, engine.Rules("router-200"))
}

func TestConfigureNATRuntimeError(t *testing.T) {
	c, engine := newTestConfigurator(false)
	engine.Add("router-200", true)
	engine.Fail["exec"] = errors.New("conflict")

	_, err := c.ConfigureNAT(context.Background(), "router-200")
	require.Error(t, err)

	var rtErr *container.RuntimeError
	assert.True(t, errors.As(err, &rtErr))
}
