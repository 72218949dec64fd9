package chain

import (
	"context"

	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/seqid"
)

// NextLink is a replica's connection to its downstream neighbor in the
// chain (spec §9 "next_chain_module_cxn"). Engine's metadataMtx guards
// which link it holds: readers on the request paths, a writer in SetNext.
type NextLink interface {
	// ChainRequest forwards op to the next replica. It does not block for
	// the eventual ack — propagation of the ack back upstream happens on
	// a separate path (see PrevLink).
	ChainRequest(ctx context.Context, op seqid.Op) error
	// RunCommandOnNext runs one command on the next replica synchronously
	// and returns its result, bypassing the pending/ack mechanism. Used by
	// ForwardAll's full-state catch-up (spec §4.2).
	RunCommandOnNext(ctx context.Context, cmdID int32, args command.Args) (command.Response, error)
	// Reset asks the replica this link points at to disconnect from its
	// own next block and reconnect to blockName, or to disconnect
	// entirely if blockName is the "nil" sentinel (partition.NilBlockName).
	Reset(ctx context.Context, blockName string) error
}

// PrevLink is a replica's connection to its upstream neighbor, used only
// to acknowledge (spec §9 "prev_chain_module_cxn"). This replica initiates
// each ack itself; over internal/transport every ack is one HTTP POST to
// the upstream replica's /chain/{slot}/ack route, with no persistent
// connection.
type PrevLink interface {
	// Ack acknowledges seq upstream. resp is the response the tail (or
	// whichever replica ultimately applied the command) computed; it
	// rides along with the ack so the chain's origin replica — the one
	// with no previous link — can deliver it to the waiting client
	// without needing its own locally-applied copy of the result. See
	// DESIGN.md for why this extends the literal chain_ack(seq) wire
	// tuple of spec §6.
	Ack(ctx context.Context, seq seqid.ID, resp command.Response, cmdErr error) error
	// IsSet reports whether this link has ever been connected to an
	// upstream replica.
	IsSet() bool
}
