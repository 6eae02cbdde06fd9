package dataplane

import (
	"context"
	"errors"

	"github.com/easzlab/eznat66/pkg/nat66"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchProcessor runs a batch of packets to their dispositions.
type BatchProcessor interface {
	ProcessBatch(w *nat66.WorkerContext, pkts []nat66.Packet) int
}

// Worker drains one source in batches. Packets of a batch are processed and
// given their verdicts in arrival order.
type Worker struct {
	wctx      *nat66.WorkerContext
	processor BatchProcessor
	source    Source
	in        chan Received
	batch     []nat66.Packet
	ids       []uint32
	logger    *zap.Logger
}

// NewWorker creates a Worker handling up to batchSize packets per batch.
func NewWorker(wctx *nat66.WorkerContext, processor BatchProcessor, source Source, batchSize int, logger *zap.Logger) *Worker {
	return &Worker{
		wctx:      wctx,
		processor: processor,
		source:    source,
		in:        make(chan Received, batchSize),
		batch:     make([]nat66.Packet, 0, batchSize),
		ids:       make([]uint32, 0, batchSize),
		logger: logger.With(
			zap.Stringer("direction", wctx.Direction),
			zap.Int("worker", wctx.Worker),
		),
	}
}

// Run receives and processes packets until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.source.Run(ctx, func(r Received) {
			select {
			case w.in <- r:
			case <-ctx.Done():
			}
		})
	})
	g.Go(func() error {
		return w.loop(ctx)
	})

	w.logger.Info("worker started")
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-w.in:
			w.add(r)
		}

	drain:
		for len(w.batch) < cap(w.batch) {
			select {
			case r := <-w.in:
				w.add(r)
			default:
				break drain
			}
		}

		if err := w.flush(); err != nil {
			return err
		}
	}
}

func (w *Worker) add(r Received) {
	w.batch = append(w.batch, nat66.Packet{
		Data:    r.Data,
		Ingress: r.Ingress,
		Traced:  w.wctx.Tracer.Sample(),
	})
	w.ids = append(w.ids, r.ID)
}

// flush processes the pending batch and issues its verdicts.
func (w *Worker) flush() error {
	w.processor.ProcessBatch(w.wctx, w.batch)

	for i := range w.batch {
		pkt := &w.batch[i]
		var data []byte
		if pkt.Modified {
			data = pkt.Data
		}
		if err := w.source.Verdict(w.ids[i], pkt.Disposition, data); err != nil {
			if errors.Is(err, ErrSourceClosed) {
				return err
			}
			w.logger.Warn("failed to set verdict", zap.Uint32("id", w.ids[i]), zap.Error(err))
		}
	}

	clear(w.batch)
	w.batch = w.batch[:0]
	w.ids = w.ids[:0]
	return nil
}

// Pool runs a set of workers together.
type Pool struct {
	workers []*Worker
	logger  *zap.Logger
}

// NewPool creates a Pool of workers.
func NewPool(workers []*Worker, logger *zap.Logger) *Pool {
	return &Pool{workers: workers, logger: logger}
}

// Run starts every worker and waits until ctx is done or one of them fails.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	p.logger.Info("dataplane started", zap.Int("workers", len(p.workers)))
	return g.Wait()
}

// Close releases the sources of every worker.
func (p *Pool) Close() error {
	var closeErrors []error
	for _, w := range p.workers {
		if err := w.source.Close(); err != nil {
			closeErrors = append(closeErrors, err)
		}
	}
	return errors.Join(closeErrors...)
}
