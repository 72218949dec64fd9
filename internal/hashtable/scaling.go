package hashtable

import (
	"context"

	"go.uber.org/zap"
)

// overloadLocked and underloadLocked implement spec §4.4's overload()/
// underload() predicates. Callers hold dataMu.
func (p *Partition) overloadLocked() bool {
	return float64(p.size) > p.cfg.ThresholdHi*float64(p.cfg.Capacity)
}

func (p *Partition) underloadLocked() bool {
	return float64(p.size) < p.cfg.ThresholdLo*float64(p.cfg.Capacity)
}

// maybeTriggerScale fires an asynchronous split or merge request once a
// mutation pushes the partition over or under its thresholds (spec §4.4
// "Triggered when overload()/underload() evaluates true after a mutation
// and auto_scale=true"). Caller holds dataMu; the actual RPC happens off
// that lock in a goroutine.
func (p *Partition) maybeTriggerScale() {
	if !p.cfg.AutoScale {
		return
	}
	switch {
	case p.overloadLocked():
		p.triggerOverloadLocked()
	case p.underloadLocked():
		p.triggerUnderloadLocked()
	}
}

// triggerOverloadLocked is also called directly from the "!full" path in
// commands.go, since a rejected write is itself evidence of overload even
// though the mutation that hit the ceiling never applied.
func (p *Partition) triggerOverloadLocked() {
	if !p.cfg.AutoScale {
		return
	}
	if !p.scalingInFlight.CompareAndSwap(false, true) {
		return
	}
	p.fireScaleRequest(true)
}

func (p *Partition) triggerUnderloadLocked() {
	if !p.scalingInFlight.CompareAndSwap(false, true) {
		return
	}
	p.fireScaleRequest(false)
}

// fireScaleRequest dispatches the split/merge call to the attached
// AutoScaler off the data lock, clearing scalingInFlight when the call
// returns regardless of outcome — the guard only needs to prevent
// concurrently firing duplicate requests while one is outstanding, not to
// survive across a completed scaling round (the next overload/underload
// detection after the round completes will re-evaluate and re-trigger if
// still warranted).
func (p *Partition) fireScaleRequest(overload bool) {
	p.stateMu.RLock()
	scaler := p.autoScaler
	name := p.name
	slots := p.slotRange
	p.stateMu.RUnlock()

	if scaler == nil {
		p.scalingInFlight.Store(false)
		return
	}

	go func() {
		defer p.scalingInFlight.Store(false)
		ctx := context.Background()
		var err error
		if overload {
			err = scaler.RequestSplit(ctx, name, slots)
		} else {
			err = scaler.RequestMerge(ctx, name, slots)
		}
		if err != nil {
			p.logger.Warn("hashtable: auto-scale request failed",
				zap.String("partition", name), zap.Bool("overload", overload), zap.Error(err))
		}
	}()
}
