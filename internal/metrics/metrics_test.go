package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, r *Registry) string {
	t.Helper()
	mfs, err := r.reg.Gather()
	require.NoError(t, err)
	var sb strings.Builder
	for _, mf := range mfs {
		sb.WriteString(mf.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestObserveCommandRecordsCounterAndHistogram(t *testing.T) {
	r := New()
	r.ObserveCommand("put", 5*time.Millisecond, nil)
	r.ObserveCommand("put", 3*time.Millisecond, assertErr)

	out := gather(t, r)
	assert.Contains(t, out, `name:"jiffy_command_total"`)
	assert.Contains(t, out, `name:"jiffy_command_duration_seconds"`)
	assert.Contains(t, out, `value:"put"`)
	assert.Contains(t, out, `value:"ok"`)
	assert.Contains(t, out, `value:"error"`)
}

var assertErr = errStub("boom")

type errStub string

func (e errStub) Error() string { return string(e) }

func TestObserveForwardRecordsHistogram(t *testing.T) {
	r := New()
	r.ObserveForward(10 * time.Millisecond)

	out := gather(t, r)
	assert.Contains(t, out, `name:"jiffy_chain_forward_latency_seconds"`)
}

func TestSetPendingDepthAndStorageSize(t *testing.T) {
	r := New()
	r.SetPendingDepth(3, 7)
	r.SetStorageSize(3, 4096)

	out := gather(t, r)
	assert.Contains(t, out, `name:"jiffy_pending_depth"`)
	assert.Contains(t, out, `value:"3"`)
	assert.Contains(t, out, `name:"jiffy_storage_size_bytes"`)
}

type fakeSlotSource struct {
	pending map[int]int
	size    map[int]int64
	bound   map[int]bool
	n       int
}

func (f *fakeSlotSource) NumSlots() int { return f.n }

func (f *fakeSlotSource) SlotStats(idx int) (int, int64, bool) {
	if !f.bound[idx] {
		return 0, 0, false
	}
	return f.pending[idx], f.size[idx], true
}

func TestSamplerSkipsUnboundSlots(t *testing.T) {
	r := New()
	src := &fakeSlotSource{
		n:       2,
		bound:   map[int]bool{0: true},
		pending: map[int]int{0: 2},
		size:    map[int]int64{0: 128},
	}
	s := NewSampler(r, src, time.Second)
	s.sampleOnce()

	out := gather(t, r)
	assert.Contains(t, out, `value:"0"`)
	assert.NotContains(t, out, `value:"1"`)
}

func TestSamplerRunStopsOnContextCancel(t *testing.T) {
	r := New()
	src := &fakeSlotSource{n: 0}
	s := NewSampler(r, src, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
