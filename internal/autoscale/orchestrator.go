package autoscale

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dreamware/jiffy/internal/chain"
	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/hashtable"
	"github.com/dreamware/jiffy/internal/seqid"
)

// managedPartition is everything the Orchestrator needs to drive one
// locally-hosted partition through a scaling round: its chain engine (for
// locally-replicated update_partition/scale_remove calls) and a private
// client-sequence counter, since the orchestrator is its own client of
// the chain from the partition's point of view.
type managedPartition struct {
	engine    *chain.Engine
	blockName string
	clientSeq atomic.Int64
	clientID  int64
}

// Orchestrator implements hashtable.AutoScaler, driving spec §4.4's
// split/merge protocol: it is attached to every partition's head (or
// singleton) replica via SetAutoScaler, and reacts to the overload()/
// underload() callbacks those replicas fire.
type Orchestrator struct {
	dialer   Dialer
	planner  Planner
	logger   *zap.Logger
	clientID int64

	mu       sync.RWMutex
	managed  map[string]*managedPartition
}

// New builds an Orchestrator. clientID identifies this orchestrator's own
// mutations to the chain (scale_remove, update_partition) for diagnostics
// — it is not a real client in the command-surface sense, just a fixed
// identifier distinguishing autoscale-originated ops in logs.
func New(dialer Dialer, planner Planner, clientID int64, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		dialer:   dialer,
		planner:  planner,
		clientID: clientID,
		logger:   logger,
		managed:  make(map[string]*managedPartition),
	}
}

// Register binds partitionName to the chain engine hosting it locally,
// so a later RequestSplit/RequestMerge callback for that name can drive
// its own chain directly rather than dialing itself over the network.
// blockName is this replica's own block name, used as export_target for
// the mirror side of a merge (a sibling exporting back into us).
func (o *Orchestrator) Register(partitionName, blockName string, engine *chain.Engine) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.managed[partitionName] = &managedPartition{engine: engine, blockName: blockName, clientID: o.clientID}
}

// Unregister drops partitionName, e.g. once a merge has torn it down.
func (o *Orchestrator) Unregister(partitionName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.managed, partitionName)
}

func (o *Orchestrator) lookup(partitionName string) (*managedPartition, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	mp, ok := o.managed[partitionName]
	if !ok {
		return nil, fmt.Errorf("autoscale: %q is not registered with this orchestrator", partitionName)
	}
	return mp, nil
}

// RequestSplit implements hashtable.AutoScaler (spec §4.4 overload
// branch): allocate a destination for the upper half of slots, rewire
// both sides into exporting/importing, drain, then finalize.
func (o *Orchestrator) RequestSplit(ctx context.Context, partitionName string, slots hashtable.SlotRange) error {
	mp, err := o.lookup(partitionName)
	if err != nil {
		return err
	}

	plan, err := o.planner.PlanSplit(ctx, partitionName, slots)
	if err != nil {
		return fmt.Errorf("autoscale: planning split of %q: %w", partitionName, err)
	}

	mid := slots.Mid()
	dest := o.dialer.DialCommand(plan.DestAddr)

	o.logger.Info("starting split",
		zap.String("partition", partitionName), zap.Uint32("mid", mid), zap.String("dest", plan.DestBlockName))

	// Step 2: source exporting, destination importing.
	if err := o.localUpdatePartition(ctx, mp, partitionName, partitionTransition{
		State: "exporting", ExportBegin: mid, ExportEnd: slots.End, ExportTarget: plan.DestBlockName,
	}); err != nil {
		return fmt.Errorf("autoscale: marking %q exporting: %w", partitionName, err)
	}
	if err := o.remoteUpdatePartition(ctx, dest, plan.DestSlot, plan.DestPartitionName, partitionTransition{
		State: "importing", ImportBegin: mid, ImportEnd: slots.End,
	}); err != nil {
		return fmt.Errorf("autoscale: marking %q importing on %q: %w", plan.DestPartitionName, plan.DestBlockName, err)
	}

	// Step 3: drain [mid, end) to the destination.
	exportRange := hashtable.SlotRange{Begin: mid, End: slots.End}
	if err := o.drain(ctx, mp, dest, plan.DestSlot, exportRange); err != nil {
		return fmt.Errorf("autoscale: draining %q into %q: %w", partitionName, plan.DestBlockName, err)
	}

	// Step 4: finalize both sides as regular, source shrunk to [begin,mid).
	sourceName := hashtable.FormatName(slots.Begin, mid)
	if err := o.localUpdatePartition(ctx, mp, sourceName, partitionTransition{State: "regular"}); err != nil {
		return fmt.Errorf("autoscale: finalizing source %q: %w", sourceName, err)
	}
	if err := o.remoteUpdatePartition(ctx, dest, plan.DestSlot, plan.DestPartitionName, partitionTransition{State: "regular"}); err != nil {
		return fmt.Errorf("autoscale: finalizing destination %q: %w", plan.DestPartitionName, err)
	}

	o.mu.Lock()
	delete(o.managed, partitionName)
	o.managed[sourceName] = mp
	o.mu.Unlock()

	o.logger.Info("split complete", zap.String("source", sourceName), zap.String("dest", plan.DestPartitionName))
	return nil
}

// RequestMerge implements hashtable.AutoScaler (spec §4.4 underload
// branch): drain this partition's entire range into an adjacent sibling,
// then finalize — there is no "shrunk source" left, since the whole
// range moved.
func (o *Orchestrator) RequestMerge(ctx context.Context, partitionName string, slots hashtable.SlotRange) error {
	mp, err := o.lookup(partitionName)
	if err != nil {
		return err
	}

	plan, err := o.planner.PlanMerge(ctx, partitionName, slots)
	if err != nil {
		return fmt.Errorf("autoscale: planning merge of %q: %w", partitionName, err)
	}

	dest := o.dialer.DialCommand(plan.DestAddr)

	o.logger.Info("starting merge",
		zap.String("partition", partitionName), zap.String("dest", plan.DestBlockName))

	if err := o.localUpdatePartition(ctx, mp, partitionName, partitionTransition{
		State: "exporting", ExportBegin: slots.Begin, ExportEnd: slots.End, ExportTarget: plan.DestBlockName,
	}); err != nil {
		return fmt.Errorf("autoscale: marking %q exporting: %w", partitionName, err)
	}
	if err := o.remoteUpdatePartition(ctx, dest, plan.DestSlot, plan.DestPartitionName, partitionTransition{
		State: "importing", ImportBegin: slots.Begin, ImportEnd: slots.End,
	}); err != nil {
		return fmt.Errorf("autoscale: marking %q importing on %q: %w", plan.DestPartitionName, plan.DestBlockName, err)
	}

	if err := o.drain(ctx, mp, dest, plan.DestSlot, slots); err != nil {
		return fmt.Errorf("autoscale: draining %q into %q: %w", partitionName, plan.DestBlockName, err)
	}

	// Source's range is now empty: mark it regular over [begin,begin) so
	// routeOrAdmit redirects every key away from it (it owns nothing).
	// The process hosting it is expected to be torn down by whatever
	// operator invoked this merge; this package only empties it.
	emptyName := hashtable.FormatName(slots.Begin, slots.Begin)
	if err := o.localUpdatePartition(ctx, mp, emptyName, partitionTransition{State: "regular"}); err != nil {
		return fmt.Errorf("autoscale: finalizing emptied source %q: %w", emptyName, err)
	}
	if err := o.remoteUpdatePartition(ctx, dest, plan.DestSlot, plan.DestPartitionName, partitionTransition{State: "regular"}); err != nil {
		return fmt.Errorf("autoscale: finalizing destination %q: %w", plan.DestPartitionName, err)
	}

	o.mu.Lock()
	delete(o.managed, partitionName)
	o.mu.Unlock()

	o.logger.Info("merge complete", zap.String("dest", plan.DestPartitionName))
	return nil
}

// drain implements step 3: scan the source's slot range and move each key
// to the destination with scale_put, then remove it locally as a
// replicated chain op — looping until a scan turns up nothing, at which
// point the range is empty (spec §4.4 "Once drain empties").
func (o *Orchestrator) drain(ctx context.Context, mp *managedPartition, dest CommandSurface, destSlot int, r hashtable.SlotRange) error {
	for {
		resp, err := mp.engine.Partition().Execute(hashtable.CmdGetDataInSlotRange, slotRangeArgs(r, 0))
		if err != nil {
			return fmt.Errorf("get_data_in_slot_range: %w", err)
		}
		if len(resp) == 0 {
			return nil
		}

		for i := 0; i+1 < len(resp); i += 2 {
			key, val := resp[i], resp[i+1]

			if _, err := dest.CommandRequest(ctx, destSlot, mp.nextSeq(), hashtable.CmdScalePut,
				command.Args{key, val}, mp.clientID); err != nil {
				return fmt.Errorf("scale_put %q on destination: %w", string(key), err)
			}

			if _, err := mp.engine.Request(ctx, mp.nextSeq().ClientSeq, hashtable.CmdScaleRemove,
				command.Args{key}, mp.clientID); err != nil {
				return fmt.Errorf("scale_remove %q locally: %w", string(key), err)
			}
		}
	}
}

func (o *Orchestrator) localUpdatePartition(ctx context.Context, mp *managedPartition, newName string, transition partitionTransition) error {
	args, err := updatePartitionArgs(newName, transition)
	if err != nil {
		return err
	}
	_, err = mp.engine.Request(ctx, mp.nextSeq().ClientSeq, hashtable.CmdUpdatePartition, args, mp.clientID)
	return err
}

func (o *Orchestrator) remoteUpdatePartition(ctx context.Context, dest CommandSurface, destSlot int, newName string, transition partitionTransition) error {
	args, err := updatePartitionArgs(newName, transition)
	if err != nil {
		return err
	}
	_, err = dest.CommandRequest(ctx, destSlot, seqid.ID{ClientSeq: nextClientSeq()}, hashtable.CmdUpdatePartition, args, o.clientID)
	return err
}

func (mp *managedPartition) nextSeq() seqid.ID {
	return seqid.ID{ClientSeq: mp.clientSeq.Add(1)}
}

var sharedClientSeq atomic.Int64

// nextClientSeq hands out client-sequence numbers for calls the
// Orchestrator makes against a destination it does not otherwise own a
// managedPartition counter for.
func nextClientSeq() int64 {
	return sharedClientSeq.Add(1)
}

var (
	_ hashtable.AutoScaler = (*Orchestrator)(nil)
)
