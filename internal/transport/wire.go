// Package transport implements the HTTP/JSON command, chain, and
// management surfaces (spec §6) — both the client half (dialing a
// neighbor or a directory-resolved block by name) and the server half (a
// chi-routed mux exposing one storage-server process's block.Server and
// management.Management over HTTP).
//
// Every wire message here is a plain JSON-tagged struct rather than the
// literal byte-string tuples spec §6 describes at the protocol level:
// command.Args and command.Response are both [][]byte, which
// encoding/json already renders as an array of base64 strings, so no
// separate wire-level codec is needed on top.
package transport

import (
	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/seqid"
)

// chainRequestWire is chain_request's wire body.
type chainRequestWire struct {
	Seq      seqid.ID     `json:"seq"`
	CmdID    int32        `json:"cmd_id"`
	Args     command.Args `json:"args"`
	ClientID int64        `json:"client_id"`
}

func toWireOp(op seqid.Op) chainRequestWire {
	return chainRequestWire{Seq: op.Seq, CmdID: op.CmdID, Args: op.Args, ClientID: op.ClientID}
}

func (w chainRequestWire) toOp() seqid.Op {
	return seqid.Op{Seq: w.Seq, CmdID: w.CmdID, Args: w.Args, ClientID: w.ClientID}
}

// chainAckWire is chain_ack's wire body (extended, per DESIGN.md, to carry
// the settled response alongside the sequence id).
type chainAckWire struct {
	Seq      seqid.ID        `json:"seq"`
	Response command.Response `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// runCommandWire is run_command_on_next's wire body.
type runCommandWire struct {
	CmdID int32        `json:"cmd_id"`
	Args  command.Args `json:"args"`
}

// resetLinkWire is the chain link reset call's wire body.
type resetLinkWire struct {
	BlockName string `json:"block_name"`
}

// commandRequestWire is command_request's wire body.
type commandRequestWire struct {
	Seq      seqid.ID     `json:"seq"`
	CmdID    int32        `json:"cmd_id"`
	Args     command.Args `json:"args"`
	ClientID int64        `json:"client_id"`
}

// commandResponseWire wraps a command reply plus its command-level error,
// if any (command-level failures ride the response sentinel tokens per
// spec §7, but a transport call can still fail outright — bad slot,
// unbound engine, unknown command — and those surface as Error here).
type commandResponseWire struct {
	Response command.Response `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// setupBlockWire is setup_block's wire body.
type setupBlockWire struct {
	BlockName         string   `json:"block_name"`
	PartitionType     string   `json:"partition_type"`
	PartitionName     string   `json:"partition_name"`
	PartitionMetadata string   `json:"partition_metadata,omitempty"`
	PartitionConfig   []byte   `json:"partition_config,omitempty"`
	Chain             []string `json:"chain"`
	Role              string   `json:"role"`
	NextBlockName     string   `json:"next_block_name"`
}

// pathWire carries a backing path, used by load/sync/dump requests and
// the path(block_name) response.
type pathWire struct {
	Path string `json:"path"`
}

// flushedWire is sync/dump's response: whether a flush actually happened.
type flushedWire struct {
	Flushed bool `json:"flushed"`
}

// int64Wire carries one integer value, used for storage_capacity,
// storage_size, and get_client_id's responses.
type int64Wire struct {
	Value int64 `json:"value"`
}

// errorWire is the JSON body returned alongside a non-2xx status.
type errorWire struct {
	Error string `json:"error"`
}
