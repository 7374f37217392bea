package mesh

import (
	"fmt"
	"strconv"
	"strings"
)

// BROADCAST_ID is the reserved node ID used for broadcast packets.
const BROADCAST_ID NodeID = 0xFFFFFFFF

// NodeID is a Meshtastic node identifier in its integer form.
type NodeID uint32

// String returns the node ID in hex representation (!abcdef12).
// The broadcast ID renders as "^all", matching the Meshtastic convention.
func (n NodeID) String() string {
	if n == BROADCAST_ID {
		return "^all"
	}
	return fmt.Sprintf("!%08x", uint32(n))
}

// ParseNodeID converts a hex node ID (!abcdef12 or "^all") to integer form.
func ParseNodeID(s string) (NodeID, error) {
	if s == "^all" {
		return BROADCAST_ID, nil
	}
	if !strings.HasPrefix(s, "!") {
		return 0, fmt.Errorf("node id %q missing '!' prefix", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("node id %q is not valid hex: %w", s, err)
	}
	return NodeID(v), nil
}
