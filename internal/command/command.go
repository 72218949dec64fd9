// Package command defines the command vocabulary shared by every partition
// type: the argument/response wire shape, the response sentinels, and the
// descriptor table the chain engine consults to decide whether a command
// must be forwarded down a replica chain or can be answered locally.
//
// A partition never interprets chain semantics itself (see internal/chain);
// it only exposes a Table mapping command identifiers to handlers and flags.
package command

import "fmt"

// Args is the ordered sequence of byte-strings a client or chain-forward
// call passes to a command handler.
type Args [][]byte

// Response is the ordered sequence of byte-strings a command handler
// returns. By convention the first element is a status token: either an
// application value or one of the sentinels below, prefixed with "!".
type Response [][]byte

// Status sentinels returned as the first element of a Response. Command
// level failures are always encoded this way; they are never Go errors
// (see spec §7 — command-level errors never throw).
const (
	StatusOK            = "!ok"
	StatusKeyNotFound   = "!key_not_found"
	StatusDuplicateKey  = "!duplicate_key"
	StatusFull          = "!full"
	StatusEmpty         = "!empty"
	StatusBlockMoved    = "!block_moved"
	StatusRedo          = "!redo"
	StatusExporting     = "!exporting"
	StatusWrongState    = "!wrong_state"
)

// Reply builds a single-token Response from a status sentinel.
func Reply(status string) Response {
	return Response{[]byte(status)}
}

// ReplyWithTarget builds a two-token Response: a status sentinel followed by
// a routing target, used for "!block_moved <target>" and
// "!exporting <target>".
func ReplyWithTarget(status, target string) Response {
	return Response{[]byte(status), []byte(target)}
}

// Value builds a single-token Response carrying an application value.
func Value(v []byte) Response {
	return Response{v}
}

// Status returns the first token of a Response, or "" for an empty
// Response. Protocol code treats an empty first token as malformed.
func (r Response) Status() string {
	if len(r) == 0 {
		return ""
	}
	return string(r[0])
}

// IsError reports whether the response's first token starts with "!". It
// cannot tell a "!" sentinel from an application value that happens to
// start with "!"; callers that need that distinction compare against the
// named Status* constants directly.
func (r Response) IsError() bool {
	s := r.Status()
	return len(s) > 0 && s[0] == '!'
}

// Flags classifies a command for the chain engine's routing decision
// (spec §3 "Command descriptor" and §4.2).
type Flags struct {
	// Mutates marks a command that changes partition state. Mutating
	// commands are always routed through the chain (stamped at the head,
	// forwarded, acknowledged at the tail).
	Mutates bool
	// Accessor marks a read-only command. Accessors answer locally when
	// received by the tail or a singleton; otherwise they are forwarded
	// like a mutation so the tail can answer authoritatively.
	Accessor bool
	// Scaling marks a command that is only legal during slot migration
	// (scale_put, scale_remove) — admission for these bypasses the normal
	// slot-range check and instead checks the import/export range.
	Scaling bool
}

// Handler executes one command against partition state and returns the
// response to send back (to the client, or up the chain to the tail's
// caller once applied).
type Handler func(args Args) (Response, error)

// Descriptor names one entry in a partition's command table.
type Descriptor struct {
	Handler Handler
	Name    string
	ID      int32
	Flags   Flags
}

// Table is a partition's command vocabulary, indexed by command id.
type Table map[int32]Descriptor

// NewTable builds a Table from a list of descriptors, panicking on a
// duplicate id — a programmer error caught at partition-registration time,
// not at request time.
func NewTable(descs ...Descriptor) Table {
	t := make(Table, len(descs))
	for _, d := range descs {
		if _, exists := t[d.ID]; exists {
			panic(fmt.Sprintf("command: duplicate command id %d (%s)", d.ID, d.Name))
		}
		t[d.ID] = d
	}
	return t
}

// Lookup returns the descriptor for cmdID and whether it was found.
func (t Table) Lookup(cmdID int32) (Descriptor, bool) {
	d, ok := t[cmdID]
	return d, ok
}

// Merge returns a new Table containing every descriptor of t and extra,
// used to combine the shared lifecycle vocabulary with a partition type's
// own data-operation vocabulary. extra wins on id collision.
func Merge(t Table, extra Table) Table {
	out := make(Table, len(t)+len(extra))
	for id, d := range t {
		out[id] = d
	}
	for id, d := range extra {
		out[id] = d
	}
	return out
}

// Shared lifecycle command ids, common to every partition type. Concrete
// partition types number their own data-operation commands starting at
// 100 to leave room here.
const (
	CmdGetMetadata    int32 = 1
	CmdGetStorageSize int32 = 2
)
