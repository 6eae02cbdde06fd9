//go:build linux

package dataplane

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/easzlab/eznat66/pkg/nat66"
	nfqueue "github.com/florianl/go-nfqueue"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// QueueOptions configures the NFQUEUE queues of a worker pool.
type QueueOptions struct {
	MaxQueueLen uint32
	FailOpen    bool
}

type nfqueueSource struct {
	queue  uint16
	nf     *nfqueue.Nfqueue
	logger *zap.Logger
}

// NewQueueSource binds NFQUEUE queue number queue for IPv6 packets.
func NewQueueSource(queue uint16, opts QueueOptions, logger *zap.Logger) (Source, error) {
	cfg := &nfqueue.Config{
		NfQueue:      queue,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  opts.MaxQueueLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
		AfFamily:     unix.AF_INET6,
	}
	if opts.FailOpen {
		cfg.Flags = nfqueue.NfQaCfgFlagFailOpen
	}

	nf, err := nfqueue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open nfqueue %d: %w", queue, err)
	}

	return &nfqueueSource{
		queue:  queue,
		nf:     nf,
		logger: logger.With(zap.Uint16("queue", queue)),
	}, nil
}

func (s *nfqueueSource) Run(ctx context.Context, deliver func(Received)) error {
	hook := func(a nfqueue.Attribute) int {
		if a.PacketID == nil || a.Payload == nil {
			return 0
		}
		r := Received{
			ID: *a.PacketID,
			// The payload buffer belongs to the receive loop.
			Data: append([]byte(nil), *a.Payload...),
		}
		if a.InDev != nil {
			r.Ingress = *a.InDev
		}
		deliver(r)
		return 0
	}

	onError := func(err error) int {
		if ctx.Err() != nil {
			return 1
		}
		var opErr interface{ Timeout() bool }
		if errors.As(err, &opErr) && opErr.Timeout() {
			return 0
		}
		if errors.Is(err, unix.ENOBUFS) {
			s.logger.Warn("nfqueue receive buffer overrun, packets were lost")
			return 0
		}
		s.logger.Error("nfqueue receive failed", zap.Error(err))
		return 0
	}

	if err := s.nf.RegisterWithErrorFunc(ctx, hook, onError); err != nil {
		return fmt.Errorf("failed to register nfqueue %d: %w", s.queue, err)
	}
	s.logger.Info("nfqueue bound")

	<-ctx.Done()
	return nil
}

func (s *nfqueueSource) Verdict(id uint32, d nat66.Disposition, data []byte) error {
	var err error
	switch {
	case d == nat66.Drop:
		err = s.nf.SetVerdict(id, nfqueue.NfDrop)
	case data != nil:
		err = s.nf.SetVerdictModPacket(id, nfqueue.NfAccept, data)
	default:
		err = s.nf.SetVerdict(id, nfqueue.NfAccept)
	}
	if errors.Is(err, os.ErrClosed) {
		return ErrSourceClosed
	}
	return err
}

func (s *nfqueueSource) Close() error {
	return s.nf.Close()
}
