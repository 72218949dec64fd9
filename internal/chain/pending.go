package chain

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/jiffy/internal/seqid"
)

// PendingMap is the server-sequence-keyed set of forwarded-but-unacked
// operations held by a non-tail replica (spec §3 "Chain op", glossary
// "Pending map"). Insert, Erase and Len take mu so the count n stays in
// step with the sync.Map; Snapshot takes no lock, ranging over the
// sync.Map and sorting the copy into a strictly ordered view for
// resend_pending.
//
// The source note in spec §9 puts it plainly: "strict iteration order is
// only required during resend_pending, which may snapshot-and-sort" — so
// that is exactly what Snapshot does, rather than paying for an ordered
// structure on every Insert/Erase.
type PendingMap struct {
	ops sync.Map // int64 (ServerSeq) -> seqid.Op
	mu  sync.Mutex
	n   int
}

// Insert records op as forwarded-but-unacked.
func (p *PendingMap) Insert(op seqid.Op) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.ops.Load(op.Seq.ServerSeq); !exists {
		p.n++
	}
	p.ops.Store(op.Seq.ServerSeq, op)
}

// Erase removes the entry for serverSeq, if present.
func (p *PendingMap) Erase(serverSeq int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.ops.Load(serverSeq); exists {
		p.ops.Delete(serverSeq)
		p.n--
	}
}

// Get returns the pending op for serverSeq, if present.
func (p *PendingMap) Get(serverSeq int64) (seqid.Op, bool) {
	v, ok := p.ops.Load(serverSeq)
	if !ok {
		return seqid.Op{}, false
	}
	return v.(seqid.Op), true
}

// Len reports the number of pending operations.
func (p *PendingMap) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// Snapshot returns every pending op, sorted ascending by ServerSeq — the
// order resend_pending must re-issue them in so a freshly inserted
// replica sees no gaps (spec §4.2 "Pending re-drive").
func (p *PendingMap) Snapshot() []seqid.Op {
	var ops []seqid.Op
	p.ops.Range(func(_, v any) bool {
		ops = append(ops, v.(seqid.Op))
		return true
	})
	slices.SortFunc(ops, func(a, b seqid.Op) int {
		switch {
		case a.Seq.ServerSeq < b.Seq.ServerSeq:
			return -1
		case a.Seq.ServerSeq > b.Seq.ServerSeq:
			return 1
		default:
			return 0
		}
	})
	return ops
}
