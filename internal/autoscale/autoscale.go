// Package autoscale implements the auto-scaling service's side of spec
// §4.4's slot-migration protocol: the external collaborator a hash-table
// partition calls out to via hashtable.AutoScaler when overload()/
// underload() fires. It drives both sides of a split or merge through
// update_partition, then drains the affected slot range with scale_put/
// scale_remove, exactly as spec §4.4 describes.
package autoscale

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/hashtable"
	"github.com/dreamware/jiffy/internal/seqid"
)

// CommandSurface is the slice of a block's command RPC (spec §6) the
// drain loop needs against a remote chain: command_request for
// scale_put/update_partition on the destination. internal/transport.
// CommandClient satisfies this structurally.
type CommandSurface interface {
	CommandRequest(ctx context.Context, slot int, seq seqid.ID, cmdID int32, args command.Args, clientID int64) (command.Response, error)
}

// Dialer reaches a block's command surface by address, separate from
// CommandSurface's per-slot methods since one process hosts many slots.
type Dialer interface {
	DialCommand(addr string) CommandSurface
}

// SplitPlan names the destination a source partition's upper half moves
// to (spec §4.4 step 2: "Auto-scaling service allocates a new partition
// ... and drives both sides"). Allocation policy — which block hosts the
// new partition — is a Planner's job, not the drain loop's.
type SplitPlan struct {
	DestBlockName     string // block name recorded in the new export_target / the dest's own identity
	DestPartitionName string // the destination partition's new_name once the split completes, e.g. "32768_65536"
	DestAddr          string // command-surface address of the destination's head
	DestSlot          int
}

// MergePlan names the sibling a source partition drains entirely into
// before disappearing (spec §4.4's underload branch, "merge with
// adjacent sibling").
type MergePlan struct {
	DestBlockName     string
	DestPartitionName string // the sibling's new_name after absorbing source's range
	DestAddr          string
	DestSlot          int
}

// Planner decides where a split or merge sends its data. Real cluster
// policy (capacity-aware placement, avoiding hot nodes) belongs to
// whatever operator wires this in — this package only consumes the
// decision, the same division of labor spec §4.4 draws between "the
// auto-scaling service" (policy) and the drain loop (mechanism).
type Planner interface {
	PlanSplit(ctx context.Context, partitionName string, slots hashtable.SlotRange) (SplitPlan, error)
	PlanMerge(ctx context.Context, partitionName string, slots hashtable.SlotRange) (MergePlan, error)
}

// StaticPlanner returns pre-registered plans, the way a small cluster's
// operator would hand-place a destination rather than run real placement
// policy — the analogue of the teacher's RebalanceShards, which also
// picks destinations by the simplest rule available ("round-robin ...
// in production this would consider current load").
type StaticPlanner struct {
	splits map[string]SplitPlan
	merges map[string]MergePlan
}

// NewStaticPlanner builds an empty StaticPlanner.
func NewStaticPlanner() *StaticPlanner {
	return &StaticPlanner{splits: make(map[string]SplitPlan), merges: make(map[string]MergePlan)}
}

// SetSplit registers the destination a future split of partitionName
// should use.
func (p *StaticPlanner) SetSplit(partitionName string, plan SplitPlan) {
	p.splits[partitionName] = plan
}

// SetMerge registers the sibling a future merge of partitionName should
// drain into.
func (p *StaticPlanner) SetMerge(partitionName string, plan MergePlan) {
	p.merges[partitionName] = plan
}

// PlanSplit implements Planner.
func (p *StaticPlanner) PlanSplit(ctx context.Context, partitionName string, slots hashtable.SlotRange) (SplitPlan, error) {
	plan, ok := p.splits[partitionName]
	if !ok {
		return SplitPlan{}, fmt.Errorf("autoscale: no split destination registered for %q", partitionName)
	}
	return plan, nil
}

// PlanMerge implements Planner.
func (p *StaticPlanner) PlanMerge(ctx context.Context, partitionName string, slots hashtable.SlotRange) (MergePlan, error) {
	plan, ok := p.merges[partitionName]
	if !ok {
		return MergePlan{}, fmt.Errorf("autoscale: no merge destination registered for %q", partitionName)
	}
	return plan, nil
}

// partitionTransition mirrors hashtable's private update_partition JSON
// payload field-for-field: the two packages only share a wire format,
// never a Go type, so this is a deliberate duplicate of the struct shape
// rather than an import of an unexported type.
type partitionTransition struct {
	State        string `json:"state,omitempty"`
	ExportBegin  uint32 `json:"export_begin,omitempty"`
	ExportEnd    uint32 `json:"export_end,omitempty"`
	ExportTarget string `json:"export_target,omitempty"`
	ImportBegin  uint32 `json:"import_begin,omitempty"`
	ImportEnd    uint32 `json:"import_end,omitempty"`
}

func updatePartitionArgs(newName string, transition partitionTransition) (command.Args, error) {
	blob, err := json.Marshal(transition)
	if err != nil {
		return nil, fmt.Errorf("autoscale: encoding update_partition transition: %w", err)
	}
	return command.Args{[]byte(newName), blob}, nil
}

func slotRangeArgs(r hashtable.SlotRange, max int) command.Args {
	args := command.Args{
		[]byte(strconv.FormatUint(uint64(r.Begin), 10)),
		[]byte(strconv.FormatUint(uint64(r.End), 10)),
	}
	if max > 0 {
		args = append(args, []byte(strconv.Itoa(max)))
	}
	return args
}
