package hashtable

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dreamware/jiffy/internal/command"
)

// Command ids for the hash-table partition's vocabulary (spec §4.3). IDs
// 1 and 2 are reserved by internal/command for the observational
// commands every partition type shares (get_metadata, get_storage_size).
const (
	CmdExists int32 = iota + 100
	CmdGet
	CmdPut
	CmdUpsert
	CmdUpdate
	CmdRemove
	CmdScalePut
	CmdScaleRemove
	CmdGetDataInSlotRange
	CmdUpdatePartition
)

// Commands returns the hash-table partition's command table (spec §4.3
// "Command semantics").
func (p *Partition) Commands() command.Table {
	return command.NewTable(
		command.Descriptor{ID: CmdExists, Name: "exists", Flags: command.Flags{Accessor: true}, Handler: p.cmdExists},
		command.Descriptor{ID: CmdGet, Name: "get", Flags: command.Flags{Accessor: true}, Handler: p.cmdGet},
		command.Descriptor{ID: CmdPut, Name: "put", Flags: command.Flags{Mutates: true}, Handler: p.cmdPut},
		command.Descriptor{ID: CmdUpsert, Name: "upsert", Flags: command.Flags{Mutates: true}, Handler: p.cmdUpsert},
		command.Descriptor{ID: CmdUpdate, Name: "update", Flags: command.Flags{Mutates: true}, Handler: p.cmdUpdate},
		command.Descriptor{ID: CmdRemove, Name: "remove", Flags: command.Flags{Mutates: true}, Handler: p.cmdRemove},
		command.Descriptor{ID: CmdScalePut, Name: "scale_put", Flags: command.Flags{Mutates: true, Scaling: true}, Handler: p.cmdScalePut},
		command.Descriptor{ID: CmdScaleRemove, Name: "scale_remove", Flags: command.Flags{Mutates: true, Scaling: true}, Handler: p.cmdScaleRemove},
		command.Descriptor{ID: CmdGetDataInSlotRange, Name: "get_data_in_slot_range", Flags: command.Flags{Accessor: true}, Handler: p.cmdGetDataInSlotRange},
		command.Descriptor{ID: CmdUpdatePartition, Name: "update_partition", Flags: command.Flags{Mutates: true, Scaling: true}, Handler: p.cmdUpdatePartition},
		command.Descriptor{ID: command.CmdGetMetadata, Name: "get_metadata", Flags: command.Flags{Accessor: true}, Handler: p.cmdGetMetadata},
		command.Descriptor{ID: command.CmdGetStorageSize, Name: "get_storage_size", Flags: command.Flags{Accessor: true}, Handler: p.cmdGetStorageSize},
	)
}

// Execute looks up and runs cmdID against args — the Partition
// interface's single dispatch point (spec §4.1).
func (p *Partition) Execute(cmdID int32, args command.Args) (command.Response, error) {
	desc, ok := p.Commands().Lookup(cmdID)
	if !ok {
		return nil, fmt.Errorf("hashtable: unknown command id %d", cmdID)
	}
	if desc.Flags.Mutates {
		p.updateMtx.Lock()
		defer p.updateMtx.Unlock()
	}
	return desc.Handler(args)
}

// routeOrAdmit implements spec §4.3's "Admission & routing on every
// mutation": a key outside this partition's owned range (and not in a
// live import) is redirected; a key inside an in-flight export range is
// still accepted locally. cmdGet applies the same ownership check to reads.
func (p *Partition) routeOrAdmit(key string) (admit bool, redirect command.Response) {
	slot := HashKey(key)

	p.stateMu.RLock()
	owned := p.slotRange.Contains(slot)
	importing := p.state == StateImporting && p.importSlotRange.Contains(slot)
	target := p.exportTarget
	p.stateMu.RUnlock()

	if !owned && !importing {
		return false, command.ReplyWithTarget(command.StatusBlockMoved, target)
	}
	return true, nil
}

func (p *Partition) cmdExists(args command.Args) (command.Response, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("hashtable: exists: missing key")
	}
	key := string(args[0])
	p.dataMu.RLock()
	_, ok := p.data[key]
	p.dataMu.RUnlock()
	if ok {
		return command.Value([]byte("true")), nil
	}
	return command.Value([]byte("false")), nil
}

func (p *Partition) cmdGet(args command.Args) (command.Response, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("hashtable: get: missing key")
	}
	key := string(args[0])
	slot := HashKey(key)

	p.stateMu.RLock()
	exportingThisKey := p.state == StateExporting && p.exportSlotRange.Contains(slot)
	target := p.exportTarget
	p.stateMu.RUnlock()
	if exportingThisKey {
		return command.ReplyWithTarget(command.StatusBlockMoved, target), nil
	}
	if admit, redirect := p.routeOrAdmit(key); !admit {
		return redirect, nil
	}

	p.dataMu.RLock()
	v, ok := p.data[key]
	p.dataMu.RUnlock()
	if !ok {
		return command.Reply(command.StatusKeyNotFound), nil
	}
	return command.Value(v), nil
}

func (p *Partition) cmdPut(args command.Args) (command.Response, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("hashtable: put: need key and value")
	}
	key, val := string(args[0]), args[1]

	admit, redirect := p.routeOrAdmit(key)
	if !admit {
		return redirect, nil
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	if _, exists := p.data[key]; exists {
		return command.Reply(command.StatusDuplicateKey), nil
	}
	cost := int64(len(key) + len(val))
	if p.wouldOverflow(cost) {
		p.triggerOverloadLocked()
		return command.Reply(command.StatusFull), nil
	}
	p.data[key] = val
	p.size += cost
	p.maybeTriggerScale()
	return command.Reply(command.StatusOK), nil
}

func (p *Partition) cmdUpsert(args command.Args) (command.Response, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("hashtable: upsert: need key and value")
	}
	key, val := string(args[0]), args[1]

	admit, redirect := p.routeOrAdmit(key)
	if !admit {
		return redirect, nil
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	old, existed := p.data[key]
	delta := int64(len(key) + len(val))
	if existed {
		delta -= int64(len(key) + len(old))
	}
	if delta > 0 && p.wouldOverflow(delta) {
		p.triggerOverloadLocked()
		return command.Reply(command.StatusFull), nil
	}
	p.data[key] = val
	p.size += delta
	p.maybeTriggerScale()
	return command.Reply(command.StatusOK), nil
}

func (p *Partition) cmdUpdate(args command.Args) (command.Response, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("hashtable: update: need key and value")
	}
	key, val := string(args[0]), args[1]

	admit, redirect := p.routeOrAdmit(key)
	if !admit {
		return redirect, nil
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	old, existed := p.data[key]
	if !existed {
		return command.Reply(command.StatusKeyNotFound), nil
	}
	delta := int64(len(val) - len(old))
	if delta > 0 && p.wouldOverflow(delta) {
		p.triggerOverloadLocked()
		return command.Reply(command.StatusFull), nil
	}
	p.data[key] = val
	p.size += delta
	p.maybeTriggerScale()
	return command.Value(old), nil
}

func (p *Partition) cmdRemove(args command.Args) (command.Response, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("hashtable: remove: missing key")
	}
	key := string(args[0])

	admit, redirect := p.routeOrAdmit(key)
	if !admit {
		return redirect, nil
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	old, existed := p.data[key]
	if !existed {
		return command.Reply(command.StatusKeyNotFound), nil
	}
	delete(p.data, key)
	p.size -= int64(len(key) + len(old))
	p.maybeTriggerScale()
	return command.Value(old), nil
}

func (p *Partition) cmdScalePut(args command.Args) (command.Response, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("hashtable: scale_put: need key and value")
	}
	key, val := string(args[0]), args[1]
	slot := HashKey(key)

	p.stateMu.RLock()
	legal := p.state == StateImporting && p.importSlotRange.Contains(slot)
	p.stateMu.RUnlock()
	if !legal {
		return command.Reply(command.StatusWrongState), nil
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	old, existed := p.data[key]
	delta := int64(len(key) + len(val))
	if existed {
		delta -= int64(len(key) + len(old))
	}
	p.data[key] = val
	p.size += delta
	return command.Reply(command.StatusOK), nil
}

func (p *Partition) cmdScaleRemove(args command.Args) (command.Response, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("hashtable: scale_remove: missing key")
	}
	key := string(args[0])
	slot := HashKey(key)

	p.stateMu.RLock()
	legal := p.state == StateExporting && p.exportSlotRange.Contains(slot)
	p.stateMu.RUnlock()
	if !legal {
		return command.Reply(command.StatusWrongState), nil
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	if old, existed := p.data[key]; existed {
		delete(p.data, key)
		p.size -= int64(len(key) + len(old))
	}
	// Idempotent: a key already drained by a previous attempt still
	// answers !ok, since the drain loop (internal/autoscale) may retry.
	return command.Reply(command.StatusOK), nil
}

func (p *Partition) cmdGetDataInSlotRange(args command.Args) (command.Response, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("hashtable: get_data_in_slot_range: need begin and end")
	}
	begin, err := strconv.ParseUint(string(args[0]), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("hashtable: get_data_in_slot_range: bad begin: %w", err)
	}
	end, err := strconv.ParseUint(string(args[1]), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("hashtable: get_data_in_slot_range: bad end: %w", err)
	}
	max := p.cfg.GetDataBatchMax
	if len(args) >= 3 {
		if m, err := strconv.Atoi(string(args[2])); err == nil && m > 0 {
			max = m
		}
	}
	r := SlotRange{Begin: uint32(begin), End: uint32(end)}

	p.dataMu.RLock()
	defer p.dataMu.RUnlock()
	resp := make(command.Response, 0, max*2)
	for k, v := range p.data {
		if len(resp) >= max*2 {
			break
		}
		if r.Contains(HashKey(k)) {
			resp = append(resp, []byte(k), v)
		}
	}
	return resp, nil
}

// updatePartitionArgs is the JSON payload carried in update_partition's
// optional second argument, describing the slot-migration transition
// (spec §4.4 steps 2 and 4). It is an internal realization of the wire
// command, not a literal part of the spec's Partition names grammar.
type updatePartitionArgs struct {
	State        string `json:"state,omitempty"`
	ExportBegin  uint32 `json:"export_begin,omitempty"`
	ExportEnd    uint32 `json:"export_end,omitempty"`
	ExportTarget string `json:"export_target,omitempty"`
	ImportBegin  uint32 `json:"import_begin,omitempty"`
	ImportEnd    uint32 `json:"import_end,omitempty"`
}

func (p *Partition) cmdUpdatePartition(args command.Args) (command.Response, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("hashtable: update_partition: missing new_name")
	}
	newName := string(args[0])

	var extra updatePartitionArgs
	if len(args) >= 2 && len(args[1]) > 0 {
		if err := json.Unmarshal(args[1], &extra); err != nil {
			return nil, fmt.Errorf("hashtable: update_partition: decoding transition: %w", err)
		}
	}

	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	p.name = newName
	if r, err := ParseName(newName); err == nil {
		p.slotRange = r
	}
	if extra.State != "" {
		switch extra.State {
		case "regular":
			p.state = StateRegular
			p.exportSlotRange = SlotRange{}
			p.exportTarget = ""
			p.importSlotRange = SlotRange{}
		case "exporting":
			p.state = StateExporting
			p.exportSlotRange = SlotRange{Begin: extra.ExportBegin, End: extra.ExportEnd}
			p.exportTarget = extra.ExportTarget
		case "importing":
			p.state = StateImporting
			p.importSlotRange = SlotRange{Begin: extra.ImportBegin, End: extra.ImportEnd}
		default:
			return nil, fmt.Errorf("hashtable: update_partition: unknown state %q", extra.State)
		}
	}
	return command.Reply(command.StatusOK), nil
}

func (p *Partition) cmdGetMetadata(args command.Args) (command.Response, error) {
	return command.Value([]byte(p.Metadata())), nil
}

func (p *Partition) cmdGetStorageSize(args command.Args) (command.Response, error) {
	return command.Value([]byte(strconv.FormatInt(p.StorageSize(), 10))), nil
}

// wouldOverflow reports whether adding cost bytes would push the
// partition over threshold_hi * capacity (spec §4.3 "Capacity check").
// Caller holds dataMu.
func (p *Partition) wouldOverflow(cost int64) bool {
	limit := int64(p.cfg.ThresholdHi * float64(p.cfg.Capacity))
	return p.size+cost > limit
}
