// Package config holds the process-wide configuration of the router daemon.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultImage          = "opensona/router-docker"
	DefaultFloatingCIDR   = "172.40.0.1/24"
	DefaultPeerMAC        = "fa:00:00:00:00:01"
	DefaultBridgePrefix   = "kbr-"
	DefaultPrimaryIface   = "eth0"
	DefaultSecondaryIface = "eth1"

	DefaultListenAddr  = ":5000"
	DefaultPrivilege   = "sudo"
	DefaultToolTimeout = 5 * time.Second
	DefaultUsername    = "onos"
	DefaultLogLevel    = "info"
)

// Failure policies for a create that fails partway.
const (
	PolicyLeave      = "leave"
	PolicyCompensate = "compensate"
)

// Router describes the fixed shape of every router this daemon provisions.
// It is resolved once at startup and shared read-only by all components.
type Router struct {
	Image          string   `yaml:"image"`
	FloatingCIDR   string   `yaml:"floating_cidr"`
	PeerMAC        string   `yaml:"peer_mac"`
	BridgePrefix   string   `yaml:"bridge_prefix"`
	PrimaryIface   string   `yaml:"primary_iface"`
	SecondaryIface string   `yaml:"secondary_iface"`
	Capabilities   []string `yaml:"-"`

	// Ports are optional published container ports ("179/tcp", "8080:80").
	Ports []string `yaml:"ports"`
}

// BridgeName returns the OVS bridge dedicated to the named router.
func (r Router) BridgeName(name string) string {
	return r.BridgePrefix + name
}

// Tools configures how privileged external commands are run.
type Tools struct {
	// Privilege is the elevation helper prefixed to every command; "none"
	// runs the tools directly.
	Privilege string        `yaml:"privilege"`
	Timeout   time.Duration `yaml:"timeout"`
	OVSVsctl  string        `yaml:"ovs_vsctl"`
	Pipework  string        `yaml:"pipework"`
}

// NAT configures the masquerade step.
type NAT struct {
	// CheckExisting runs an "iptables -C" probe before appending the
	// masquerade rule. Off by default, so repeated creates append duplicates.
	CheckExisting bool `yaml:"check_existing"`
}

// Auth configures HTTP Basic authentication for the API.
type Auth struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

// Server configures the API listeners.
type Server struct {
	Listen     string `yaml:"listen"`
	SocketPath string `yaml:"socket"`
	SocketGID  int    `yaml:"socket_gid"`
}

// Config is the root configuration document.
type Config struct {
	Router        Router `yaml:"router"`
	Tools         Tools  `yaml:"tools"`
	NAT           NAT    `yaml:"nat"`
	Auth          Auth   `yaml:"auth"`
	Server        Server `yaml:"server"`
	FailurePolicy string `yaml:"failure_policy"`
	// DataDir holds the router ledger; empty keeps it in memory.
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

// Load reads a YAML config file. A missing file yields a zero Config so the
// daemon can run on defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	r := &c.Router
	if r.Image == "" {
		r.Image = DefaultImage
	}
	if r.FloatingCIDR == "" {
		r.FloatingCIDR = DefaultFloatingCIDR
	}
	if r.PeerMAC == "" {
		r.PeerMAC = DefaultPeerMAC
	}
	if r.BridgePrefix == "" {
		r.BridgePrefix = DefaultBridgePrefix
	}
	if r.PrimaryIface == "" {
		r.PrimaryIface = DefaultPrimaryIface
	}
	if r.SecondaryIface == "" {
		r.SecondaryIface = DefaultSecondaryIface
	}
	// The capability set is fixed; it is not read from the file.
	r.Capabilities = []string{"NET_ADMIN", "NET_RAW"}

	if c.Tools.Privilege == "" {
		c.Tools.Privilege = DefaultPrivilege
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = DefaultToolTimeout
	}
	if c.Tools.OVSVsctl == "" {
		c.Tools.OVSVsctl = "ovs-vsctl"
	}
	if c.Tools.Pipework == "" {
		c.Tools.Pipework = "pipework"
	}

	if c.Auth.Username == "" {
		c.Auth.Username = DefaultUsername
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddr
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = PolicyLeave
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if _, _, err := net.ParseCIDR(c.Router.FloatingCIDR); err != nil {
		return fmt.Errorf("config: invalid floating_cidr %q: %w", c.Router.FloatingCIDR, err)
	}
	if _, err := net.ParseMAC(c.Router.PeerMAC); err != nil {
		return fmt.Errorf("config: invalid peer_mac %q: %w", c.Router.PeerMAC, err)
	}
	if c.Router.PrimaryIface == c.Router.SecondaryIface {
		return errors.New("config: primary_iface and secondary_iface must differ")
	}
	if c.Tools.Timeout < time.Second {
		return errors.New("config: tools.timeout must be at least 1s")
	}
	switch c.FailurePolicy {
	case PolicyLeave, PolicyCompensate:
	default:
		return fmt.Errorf("config: unknown failure_policy %q", c.FailurePolicy)
	}
	return nil
}

// ValidateServer additionally checks the settings only the API server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
		return errors.New("config: auth.password or auth.password_hash is required")
	}
	if c.Server.Listen == "" && c.Server.SocketPath == "" {
		return errors.New("config: server.listen or server.socket is required")
	}
	return nil
}
