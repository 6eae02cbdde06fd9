package nat66

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Tracer samples packets for tracing and logs their trace records. Each
// worker owns its own Tracer.
type Tracer struct {
	limiter  *rate.Limiter
	interval time.Duration
	// retryAt holds the unix nano time before which Sample answers false
	// without consulting the limiter.
	retryAt atomic.Int64
	logger  *zap.Logger
}

// NewTracer creates a Tracer sampling at most perSecond packets with the given burst.
func NewTracer(perSecond float64, burst int, logger *zap.Logger) *Tracer {
	interval := time.Second
	if perSecond > 0 {
		interval = time.Duration(float64(time.Second) / perSecond)
	}
	return &Tracer{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		interval: interval,
		logger:   logger,
	}
}

// Sample reports whether the next packet should be traced. A nil Tracer never samples.
// Between token refills it returns false from an atomic load alone.
func (t *Tracer) Sample() bool {
	if t == nil {
		return false
	}
	now := time.Now()
	if now.UnixNano() < t.retryAt.Load() {
		return false
	}
	if t.limiter.AllowN(now, 1) {
		return true
	}
	t.retryAt.Store(now.Add(t.interval).UnixNano())
	return false
}

// Record logs one trace record.
func (t *Tracer) Record(w *WorkerContext, rec TraceRecord) {
	if t == nil {
		return
	}
	t.logger.Debug("packet trace",
		zap.Stringer("direction", w.Direction),
		zap.Int("worker", w.Worker),
		zap.Uint32("ingress", rec.Ingress),
		zap.Stringer("next", rec.Disposition),
		zap.String("reason", rec.Reason.Description()),
	)
}
