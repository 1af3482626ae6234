package appnet

import (
	"errors"
	"fmt"
)

// ErrInvalidMode indicates an unknown connectivity mode.
var ErrInvalidMode = errors.New("invalid connectivity mode")

// ConnectivityMode is the short range radio service mode.
type ConnectivityMode int

// Connectivity modes.
const (
	ModeBLEEnabled ConnectivityMode = iota + 1
	ModeBLEDisabled
)

func (m ConnectivityMode) String() string {
	switch m {
	case ModeBLEEnabled:
		return "ble-enabled"
	case ModeBLEDisabled:
		return "ble-disabled"
	}
	return fmt.Sprintf("mode-%d", int(m))
}

// Valid reports whether the mode is known.
func (m ConnectivityMode) Valid() bool {
	return m == ModeBLEEnabled || m == ModeBLEDisabled
}

// MeshRoleDisabled is reported until a mesh stack reports its role.
const MeshRoleDisabled = "disabled"

// Connectivity is the state kept by the connectivity manager.
type Connectivity struct {
	Mode             ConnectivityMode
	MeshRole         string
	ServiceConnected bool
}
