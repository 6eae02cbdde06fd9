//go:build !linux

package dataplane

import "go.uber.org/zap"

// QueueOptions configures the NFQUEUE queues of a worker pool.
type QueueOptions struct {
	MaxQueueLen uint32
	FailOpen    bool
}

// NewQueueSource returns an idle in-memory source on non-Linux systems.
func NewQueueSource(queue uint16, opts QueueOptions, logger *zap.Logger) (Source, error) {
	logger.Debug("fake: created in-memory packet source", zap.Uint16("queue", queue))
	return NewChanSource(int(opts.MaxQueueLen)), nil
}
