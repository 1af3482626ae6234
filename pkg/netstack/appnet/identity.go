package appnet

import (
	"fmt"

	"github.com/denisbrodbeck/machineid"
)

// AppID scopes the machine id so the raw id never leaves the node.
const AppID = "bringup.go"

// DeviceID returns the configured id, or a protected id derived from the
// machine id.
func DeviceID(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	id, err := machineid.ProtectedID(AppID)
	if err != nil {
		return "", fmt.Errorf("device identity: %w", err)
	}
	// 16 hex digits, like an EUI-64.
	if len(id) > 16 {
		id = id[:16]
	}
	return id, nil
}
