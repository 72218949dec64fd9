package partition

import (
	"fmt"
	"strconv"
	"strings"
)

// NilBlockName is the sentinel used in place of a BlockID to mean "no next
// link" — the tail of a chain (spec §6 "Block naming").
const NilBlockName = "nil"

// BlockID names one block slot: a host plus the four RPC ports a storage
// server process exposes for it, plus the slot index on that process. The
// wire form is "host:service_port:mgmt_port:notif_port:chain_port:slot_index"
// (spec §6).
type BlockID struct {
	Host        string
	ServicePort int
	MgmtPort    int
	NotifPort   int
	ChainPort   int
	Slot        int
}

// String renders the canonical wire form of a BlockID.
func (b BlockID) String() string {
	return fmt.Sprintf("%s:%d:%d:%d:%d:%d",
		b.Host, b.ServicePort, b.MgmtPort, b.NotifPort, b.ChainPort, b.Slot)
}

// ChainAddr returns the host:port a replica's downstream neighbor should
// dial to reach this block's chain-forward surface.
func (b BlockID) ChainAddr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.ChainPort)
}

// ServiceAddr returns the host:port for this block's command surface.
func (b BlockID) ServiceAddr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.ServicePort)
}

// MgmtAddr returns the host:port for this block's management surface.
func (b BlockID) MgmtAddr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.MgmtPort)
}

// IsNil reports whether name is the "no next link" sentinel.
func IsNil(name string) bool {
	return name == "" || name == NilBlockName
}

// ParseBlockID parses a block name in the canonical wire form. It rejects
// the "nil" sentinel — callers that accept "nil" as "no next link" must
// check IsNil first.
func ParseBlockID(name string) (BlockID, error) {
	parts := strings.Split(name, ":")
	if len(parts) != 6 {
		return BlockID{}, fmt.Errorf("partition: malformed block name %q: want 6 colon-separated fields", name)
	}
	ports := make([]int, 5)
	for i, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return BlockID{}, fmt.Errorf("partition: malformed block name %q: field %d not an integer: %w", name, i+1, err)
		}
		ports[i] = n
	}
	return BlockID{
		Host:        parts[0],
		ServicePort: ports[0],
		MgmtPort:    ports[1],
		NotifPort:   ports[2],
		ChainPort:   ports[3],
		Slot:        ports[4],
	}, nil
}
