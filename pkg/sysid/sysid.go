// Package sysid derives a stable identifier for this gateway instance.
package sysid

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// InstanceID returns a stable per-host identifier, falling back to a
// random one when the machine id is unavailable (containers, stripped
// environments).
func InstanceID() string {
	if id, err := machineid.ProtectedID("chartvision"); err == nil {
		return id[:16]
	}
	return uuid.NewString()
}
