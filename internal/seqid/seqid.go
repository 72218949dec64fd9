// Package seqid defines the sequence identifier that orders every mutation
// flowing through a replica chain, and the chain operation record built
// from it.
package seqid

import (
	"fmt"

	"github.com/dreamware/jiffy/internal/command"
)

// ID pairs the client-supplied sequence number with the server-stamped
// one. ClientSeq lets a client deduplicate its own retries; ServerSeq is
// the canonical per-partition ordering key used throughout the chain
// (spec §3 "Sequence identifier").
type ID struct {
	ClientSeq int64
	ServerSeq int64
}

// String renders the identifier for logging.
func (id ID) String() string {
	return fmt.Sprintf("%d/%d", id.ClientSeq, id.ServerSeq)
}

// Less orders two IDs by ServerSeq, the only field that matters for
// replication order.
func Less(a, b ID) bool {
	return a.ServerSeq < b.ServerSeq
}

// Op is a single chain operation: the identifier that orders it, the
// command being applied, and the client that must eventually receive its
// response (spec §3 "Chain op"). ClientID is an addition to the literal
// wire tuple described in spec §6; it rides along the chain for
// diagnostics, while responses are matched to their waiting request by
// Seq.ServerSeq.
type Op struct {
	Args     command.Args
	Seq      ID
	CmdID    int32
	ClientID int64
}
