package transport

import (
	"context"
	"fmt"

	"github.com/dreamware/jiffy/internal/chain"
	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/management"
	"github.com/dreamware/jiffy/internal/partition"
	"github.com/dreamware/jiffy/internal/seqid"
)

// ChainClient dials one block's chain surface, implementing both
// chain.NextLink (forwarding down the chain) and chain.PrevLink
// (acknowledging back up it) — a replica only ever needs one direction of
// a given neighbor at a time, but the two interfaces are small enough that
// one client satisfies both rather than forcing two dials per neighbor.
type ChainClient struct {
	addr string // host:port of the target's chain surface
	slot int    // target block's slot index on that process
	set  bool
}

// NewChainClient wraps a chain-surface address and the target's slot
// index. The returned client always reports IsSet() true; an engine with
// no prev link configured holds nil instead, which ChainRequest's tail
// branch treats as nothing to ack.
func NewChainClient(addr string, slot int) *ChainClient {
	return &ChainClient{addr: addr, slot: slot, set: true}
}

func (c *ChainClient) url(path string) string {
	return fmt.Sprintf("http://%s/chain/%d%s", c.addr, c.slot, path)
}

// ChainRequest implements chain.NextLink.
func (c *ChainClient) ChainRequest(ctx context.Context, op seqid.Op) error {
	return postJSON(ctx, c.url("/request"), toWireOp(op), nil)
}

// RunCommandOnNext implements chain.NextLink.
func (c *ChainClient) RunCommandOnNext(ctx context.Context, cmdID int32, args command.Args) (command.Response, error) {
	var out commandResponseWire
	if err := postJSON(ctx, c.url("/run"), runCommandWire{CmdID: cmdID, Args: args}, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return out.Response, fmt.Errorf("transport: run_command_on_next: %s", out.Error)
	}
	return out.Response, nil
}

// Reset implements chain.NextLink.
func (c *ChainClient) Reset(ctx context.Context, blockName string) error {
	return postJSON(ctx, c.url("/reset"), resetLinkWire{BlockName: blockName}, nil)
}

// Ack implements chain.PrevLink.
func (c *ChainClient) Ack(ctx context.Context, seq seqid.ID, resp command.Response, cmdErr error) error {
	w := chainAckWire{Seq: seq, Response: resp}
	if cmdErr != nil {
		w.Error = cmdErr.Error()
	}
	return postJSON(ctx, c.url("/ack"), w, nil)
}

// IsSet implements chain.PrevLink.
func (c *ChainClient) IsSet() bool {
	return c.set
}

var (
	_ chain.NextLink = (*ChainClient)(nil)
	_ chain.PrevLink = (*ChainClient)(nil)
)

// CommandClient dials one block's command surface: get_client_id,
// register_client_id, command_request. internal/autoscale's drain loop
// uses this directly (a split/merge destination is just another block to
// issue scale_put/update_partition commands against, outside the ordinary
// chain path), and it is also the building block a real client SDK for
// this system would sit on top of.
type CommandClient struct {
	addr string
}

// NewCommandClient wraps a command-surface address.
func NewCommandClient(addr string) *CommandClient {
	return &CommandClient{addr: addr}
}

func (c *CommandClient) url(path string) string {
	return fmt.Sprintf("http://%s%s", c.addr, path)
}

// GetClientID calls get_client_id on the target slot (spec §4.6).
func (c *CommandClient) GetClientID(ctx context.Context, slot int) (int64, error) {
	var out int64Wire
	if err := postJSON(ctx, c.url(fmt.Sprintf("/command/%d/client", slot)), nil, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// CommandRequest calls command_request on the target slot (spec §4.6).
func (c *CommandClient) CommandRequest(ctx context.Context, slot int, seq seqid.ID, cmdID int32, args command.Args, clientID int64) (command.Response, error) {
	var out commandResponseWire
	req := commandRequestWire{Seq: seq, CmdID: cmdID, Args: args, ClientID: clientID}
	if err := postJSON(ctx, c.url(fmt.Sprintf("/command/%d/request", slot)), req, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return out.Response, fmt.Errorf("transport: command_request: %s", out.Error)
	}
	return out.Response, nil
}

// ManagementClient dials one process's management surface.
type ManagementClient struct {
	addr string
}

// NewManagementClient wraps a management-surface address.
func NewManagementClient(addr string) *ManagementClient {
	return &ManagementClient{addr: addr}
}

func (c *ManagementClient) url(path string) string {
	return fmt.Sprintf("http://%s%s", c.addr, path)
}

// SetupBlock calls setup_block on the target slot (spec §6).
func (c *ManagementClient) SetupBlock(ctx context.Context, slot int, req management.SetupBlockRequest) error {
	w := setupBlockWire(req)
	return postJSON(ctx, c.url(fmt.Sprintf("/management/%d/setup_block", slot)), w, nil)
}

// Path calls path(block_name) against the target process.
func (c *ManagementClient) Path(ctx context.Context, blockName string) (string, error) {
	var out pathWire
	if err := getJSON(ctx, c.url("/management/path?block_name="+blockName), &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// Load calls load(block, backing_path) on the target slot.
func (c *ManagementClient) Load(ctx context.Context, slot int, backingPath string) error {
	return postJSON(ctx, c.url(fmt.Sprintf("/management/%d/load", slot)), pathWire{Path: backingPath}, nil)
}

// Sync calls sync(block, backing_path) on the target slot.
func (c *ManagementClient) Sync(ctx context.Context, slot int, backingPath string) (bool, error) {
	var out flushedWire
	if err := postJSON(ctx, c.url(fmt.Sprintf("/management/%d/sync", slot)), pathWire{Path: backingPath}, &out); err != nil {
		return false, err
	}
	return out.Flushed, nil
}

// Dump calls dump(block, backing_path) on the target slot.
func (c *ManagementClient) Dump(ctx context.Context, slot int, backingPath string) (bool, error) {
	var out flushedWire
	if err := postJSON(ctx, c.url(fmt.Sprintf("/management/%d/dump", slot)), pathWire{Path: backingPath}, &out); err != nil {
		return false, err
	}
	return out.Flushed, nil
}

// Reset calls reset(block) on the target slot.
func (c *ManagementClient) Reset(ctx context.Context, slot int) error {
	return postJSON(ctx, c.url(fmt.Sprintf("/management/%d/reset", slot)), nil, nil)
}

// StorageCapacity calls storage_capacity(block) on the target slot.
func (c *ManagementClient) StorageCapacity(ctx context.Context, slot int) (int64, error) {
	var out int64Wire
	if err := getJSON(ctx, c.url(fmt.Sprintf("/management/%d/storage_capacity", slot)), &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// StorageSize calls storage_size(block) on the target slot.
func (c *ManagementClient) StorageSize(ctx context.Context, slot int) (int64, error) {
	var out int64Wire
	if err := getJSON(ctx, c.url(fmt.Sprintf("/management/%d/storage_size", slot)), &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// ResendPending calls resend_pending(block) on the target slot.
func (c *ManagementClient) ResendPending(ctx context.Context, slot int) error {
	return postJSON(ctx, c.url(fmt.Sprintf("/management/%d/resend_pending", slot)), nil, nil)
}

// ForwardAll calls forward_all(block) on the target slot.
func (c *ManagementClient) ForwardAll(ctx context.Context, slot int) error {
	return postJSON(ctx, c.url(fmt.Sprintf("/management/%d/forward_all", slot)), nil, nil)
}

// Dialer resolves a block name into a live chain link by parsing it as a
// BlockID and dialing its chain surface (spec §6 "Block naming"). It is
// the concrete management.LinkDialer setup_block uses outside of tests.
type Dialer struct{}

// DialNext implements management.LinkDialer.
func (Dialer) DialNext(blockName string) (chain.NextLink, error) {
	if partition.IsNil(blockName) {
		return nil, fmt.Errorf("transport: dial_next: %q has no chain address", blockName)
	}
	id, err := partition.ParseBlockID(blockName)
	if err != nil {
		return nil, fmt.Errorf("transport: dial_next: %w", err)
	}
	return NewChainClient(id.ChainAddr(), id.Slot), nil
}

// DialPrev implements management.LinkDialer.
func (Dialer) DialPrev(blockName string) (chain.PrevLink, error) {
	if partition.IsNil(blockName) {
		return nil, fmt.Errorf("transport: dial_prev: %q has no chain address", blockName)
	}
	id, err := partition.ParseBlockID(blockName)
	if err != nil {
		return nil, fmt.Errorf("transport: dial_prev: %w", err)
	}
	return NewChainClient(id.ChainAddr(), id.Slot), nil
}
