package chain

import (
	"context"
	"sync"

	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/seqid"
)

// outcome is the eventual result of one client-originated request: either
// a response or a command execution error.
type outcome struct {
	resp command.Response
	err  error
}

// responseRegistry tracks in-flight requests originated at this replica
// (always the chain's head, or a singleton), keyed by server_seq, so the
// eventual chain_ack can be matched back to the waiting caller. This is
// local bookkeeping for one in-process HTTP call; it is unrelated to — and
// simpler than — the process-wide client_id registration of spec §4.6.
type responseRegistry struct {
	waiters map[int64]chan outcome
	mu      sync.Mutex
}

func newResponseRegistry() *responseRegistry {
	return &responseRegistry{waiters: make(map[int64]chan outcome)}
}

// register opens a wait slot for serverSeq and returns a function that
// blocks until it is fulfilled or ctx is done.
func (r *responseRegistry) register(serverSeq int64) func(ctx context.Context) (command.Response, error) {
	ch := make(chan outcome, 1)
	r.mu.Lock()
	r.waiters[serverSeq] = ch
	r.mu.Unlock()

	return func(ctx context.Context) (command.Response, error) {
		select {
		case o := <-ch:
			return o.resp, o.err
		case <-ctx.Done():
			r.mu.Lock()
			delete(r.waiters, serverSeq)
			r.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// fulfil delivers resp/err to the waiter registered for serverSeq, if one
// is still registered. It is a no-op (beyond bookkeeping) if the caller
// already timed out and deregistered.
func (r *responseRegistry) fulfil(seq seqid.ID, resp command.Response, err error) {
	r.mu.Lock()
	ch, ok := r.waiters[seq.ServerSeq]
	if ok {
		delete(r.waiters, seq.ServerSeq)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	ch <- outcome{resp: resp, err: err}
}

// abandon drops a registered waiter without fulfilling it, used when the
// local caller that created it has already given up.
func (r *responseRegistry) abandon(serverSeq int64) {
	r.mu.Lock()
	delete(r.waiters, serverSeq)
	r.mu.Unlock()
}
