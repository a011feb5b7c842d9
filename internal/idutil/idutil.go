package idutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewProfileID returns a random UUID for a newly created profile.
func NewProfileID() string {
	return uuid.NewString()
}

// NewRequestID returns an opaque id for a pending host-key decision.
func NewRequestID() string {
	return "hk_" + uuid.NewString()
}

// SessionID generates a hash-based ID for one run of a profile.
// Format: sess_XXXXXXXX (13 chars total)
func SessionID(profileID string, started time.Time) string {
	return hashID("sess", fmt.Sprintf("%s:%d", profileID, started.UnixNano()))
}

// NodeID generates a stable ID for a proxy node from its group and link, so a
// subscription refresh keeps ids for unchanged nodes.
// Format: node_XXXXXXXX
func NodeID(groupID, link string) string {
	return hashID("node", groupID+"\n"+link)
}

// hashID creates a short hash-based ID with the given prefix
// Format: {prefix}_{first 8 hex chars of SHA256}
func hashID(prefix, data string) string {
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(hash[:])[:8])
}

// IsValidID checks if an ID matches the expected prefix format
func IsValidID(id, prefix string) bool {
	if len(id) < len(prefix)+1 {
		return false
	}
	return id[:len(prefix)] == prefix && id[len(prefix)] == '_'
}

// IsUUID reports whether id parses as a UUID.
func IsUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
