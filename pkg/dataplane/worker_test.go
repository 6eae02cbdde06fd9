package dataplane

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/easzlab/eznat66/pkg/nat66"
	"github.com/easzlab/eznat66/pkg/stats"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProcessor drops packets starting with 0xff and rewrites packets
// starting with 0x01 to start with 0x02.
type fakeProcessor struct {
	mu      sync.Mutex
	batches []int
	traced  int
}

func (p *fakeProcessor) ProcessBatch(w *nat66.WorkerContext, pkts []nat66.Packet) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches = append(p.batches, len(pkts))
	forwarded := 0
	for i := range pkts {
		pkt := &pkts[i]
		if pkt.Traced {
			p.traced++
		}
		switch pkt.Data[0] {
		case 0xff:
			pkt.Disposition = nat66.Drop
			continue
		case 0x01:
			pkt.Data[0] = 0x02
			pkt.Modified = true
		}
		pkt.Disposition = nat66.Forward
		forwarded++
	}
	return forwarded
}

func (p *fakeProcessor) batchSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.batches...)
}

func waitVerdicts(t *testing.T, src *ChanSource, n int) []Verdict {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		if v := src.Verdicts(); len(v) >= n {
			return v
		}
		select {
		case <-src.Notify():
		case <-deadline:
			t.Fatalf("timed out waiting for %d verdicts, got %d", n, len(src.Verdicts()))
		}
	}
}

func startWorker(t *testing.T, w *Worker) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestWorkerVerdictsInOrder(t *testing.T) {
	src := NewChanSource(16)
	proc := &fakeProcessor{}
	w := NewWorker(&nat66.WorkerContext{Worker: 0, Direction: stats.In2Out}, proc, src, 8, zap.NewNop())

	for i, b := range []byte{0x00, 0x01, 0xff, 0x01, 0x00} {
		src.Inject(Received{ID: uint32(i + 1), Data: []byte{b, 0xaa}, Ingress: 3})
	}

	cancel, done := startWorker(t, w)
	verdicts := waitVerdicts(t, src, 5)

	require.Equal(t, []Verdict{
		{ID: 1, Disposition: nat66.Forward},
		{ID: 2, Disposition: nat66.Forward, Data: []byte{0x02, 0xaa}},
		{ID: 3, Disposition: nat66.Drop},
		{ID: 4, Disposition: nat66.Forward, Data: []byte{0x02, 0xaa}},
		{ID: 5, Disposition: nat66.Forward},
	}, verdicts)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerBatchSize(t *testing.T) {
	src := NewChanSource(16)
	proc := &fakeProcessor{}
	w := NewWorker(&nat66.WorkerContext{}, proc, src, 2, zap.NewNop())

	startWorker(t, w)
	for i := 0; i < 7; i++ {
		src.Inject(Received{ID: uint32(i), Data: []byte{0x00}})
	}
	waitVerdicts(t, src, 7)

	total := 0
	for _, n := range proc.batchSizes() {
		require.LessOrEqual(t, n, 2)
		require.Positive(t, n)
		total += n
	}
	require.Equal(t, 7, total)
}

func TestWorkerSamplesTraces(t *testing.T) {
	src := NewChanSource(4)
	proc := &fakeProcessor{}
	tracer := nat66.NewTracer(0.0001, 1, zap.NewNop())
	w := NewWorker(&nat66.WorkerContext{Tracer: tracer}, proc, src, 4, zap.NewNop())

	for i := 0; i < 3; i++ {
		src.Inject(Received{ID: uint32(i), Data: []byte{0x00}})
	}
	startWorker(t, w)
	waitVerdicts(t, src, 3)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.Equal(t, 1, proc.traced, "only the burst is traced")
}

func TestWorkerStopsOnClosedSource(t *testing.T) {
	src := NewChanSource(4)
	w := NewWorker(&nat66.WorkerContext{}, &fakeProcessor{}, src, 4, zap.NewNop())
	require.NoError(t, src.Close())

	src.Inject(Received{ID: 1, Data: []byte{0x00}})
	_, done := startWorker(t, w)

	select {
	case err := <-done:
		require.True(t, errors.Is(err, ErrSourceClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestPool(t *testing.T) {
	sources := []*ChanSource{NewChanSource(4), NewChanSource(4)}
	var workers []*Worker
	for i, src := range sources {
		workers = append(workers, NewWorker(&nat66.WorkerContext{Worker: i}, &fakeProcessor{}, src, 4, zap.NewNop()))
	}
	pool := NewPool(workers, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	sources[0].Inject(Received{ID: 10, Data: []byte{0x00}})
	sources[1].Inject(Received{ID: 20, Data: []byte{0xff}})
	require.Equal(t, uint32(10), waitVerdicts(t, sources[0], 1)[0].ID)
	require.Equal(t, nat66.Drop, waitVerdicts(t, sources[1], 1)[0].Disposition)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
	require.NoError(t, pool.Close())
	require.ErrorIs(t, sources[0].Verdict(1, nat66.Forward, nil), ErrSourceClosed)
}

func TestQueueNumbering(t *testing.T) {
	require.Equal(t, uint16(100), QueueNumber(100, 4, stats.In2Out, 0))
	require.Equal(t, uint16(103), QueueNumber(100, 4, stats.In2Out, 3))
	require.Equal(t, uint16(104), QueueNumber(100, 4, stats.Out2In, 0))

	first, last := QueueRange(100, 4, stats.Out2In)
	require.Equal(t, uint16(104), first)
	require.Equal(t, uint16(107), last)
}
