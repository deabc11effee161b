package cast

import (
	"crypto/md5" //nolint:gosec // The receiver derives the same digest; this is a key, not a secret.
	"encoding/hex"
)

// DeviceID derives the protocol-level device identifier from a cast
// device's friendly name. The derivation is pure and stable: the same
// name always yields the same identifier, across restarts, which is what
// the receiver app keys the session on.
func DeviceID(friendlyName string) string {
	sum := md5.Sum([]byte(friendlyName)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
