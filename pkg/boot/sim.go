package boot

import (
	"time"

	"github.com/robotalks/bringup.go/pkg/diag"
	"github.com/robotalks/bringup.go/pkg/hw"
	"github.com/robotalks/bringup.go/pkg/mem"
	"github.com/robotalks/bringup.go/pkg/netstack/appnet"
	"github.com/robotalks/bringup.go/pkg/netstack/mesh"
)

// Sim is the simulated hardware of a node.
type Sim struct {
	Clock *hw.SimClock
	Radio *hw.SimRadio
	Board *hw.SimBoard
}

// NewSim creates simulated hardware with short startup delays.
func NewSim() Sim {
	return Sim{
		Clock: &hw.SimClock{StartupDelay: 2 * time.Millisecond},
		Radio: &hw.SimRadio{EnableDelay: 5 * time.Millisecond},
		Board: &hw.SimBoard{},
	}
}

// SimNode is a Node on simulated hardware with the real stacks.
type SimNode struct {
	*Node
	Sim     Sim
	Mem     *mem.Allocator
	Net     *appnet.Stack
	MeshNet *mesh.Stack
}

// NewSimNode wires a Node.
func NewSimNode(conf *Config, sim Sim) *SimNode {
	n := &SimNode{Node: NewNode(conf), Sim: sim}
	n.Mem = mem.New(conf.Mem)
	n.Net = appnet.New(conf.AppNet, n.Kernel, n.Node)
	n.MeshNet = mesh.New(conf.Mesh, n.Net, n.Kernel, n.Node)
	n.Clock = sim.Clock
	n.Radio = sim.Radio
	n.Allocator = n.Mem
	n.AppNet = n.Net
	n.Mesh = n.MeshNet
	n.LEDs = sim.Board
	n.Diag = &diag.Diag{
		Config:  conf.Diag,
		Spawner: n.Kernel,
		LEDs:    sim.Board,
		Buttons: sim.Board,
		Log:     n.Node,
	}
	return n
}
