package types

import (
	"github.com/ovs-container-lab/ovs-router/pkg/store"
)

// Step identifies one stage of router provisioning
type Step string

const (
	StepBridge    Step = "bridge"    // OVS bridge
	StepContainer Step = "container" // router container
	StepAttach    Step = "attach"    // pipework attachment
	StepNAT       Step = "nat"       // masquerade rule
)

// CreateSteps is the order in which a router is provisioned.
var CreateSteps = []Step{StepBridge, StepContainer, StepAttach, StepNAT}

// LinkStatus is the kernel view of a bridge's internal interface
type LinkStatus struct {
	Present   bool   `json:"present"`
	OperState string `json:"oper_state,omitempty"`
	MTU       int    `json:"mtu,omitempty"`
	MAC       string `json:"mac,omitempty"`
}

// ContainerStatus describes a router container
type ContainerStatus struct {
	ID      string `json:"id"`
	Image   string `json:"image,omitempty"`
	State   string `json:"state,omitempty"`
	Running bool   `json:"running"`
}

// BridgeStatus describes a router bridge
type BridgeStatus struct {
	Name    string      `json:"name"`
	Present bool        `json:"present"`
	Ports   []string    `json:"ports,omitempty"`
	Link    *LinkStatus `json:"link,omitempty"`
}

// RouterStatus is the live view of one router, with its ledger entry if any
type RouterStatus struct {
	Name      string              `json:"name"`
	Bridge    BridgeStatus        `json:"bridge"`
	Container *ContainerStatus    `json:"container,omitempty"`
	Attached  bool                `json:"attached"`
	Ledger    *store.RouterRecord `json:"ledger,omitempty"`
}
