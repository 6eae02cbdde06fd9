package dataplane

import (
	"context"
	"errors"
	"sync"

	"github.com/easzlab/eznat66/pkg/nat66"
	"github.com/easzlab/eznat66/pkg/stats"
)

// ErrSourceClosed is returned when a verdict is issued on a closed source.
var ErrSourceClosed = errors.New("packet source closed")

// Received is one packet taken from a source.
type Received struct {
	ID      uint32
	Data    []byte
	Ingress uint32
}

// Source delivers packets to a worker and takes back their verdicts.
// On Linux, it reads one NFQUEUE queue; tests and other systems use ChanSource.
type Source interface {
	// Run calls deliver for every received packet until ctx is done.
	Run(ctx context.Context, deliver func(Received)) error

	// Verdict returns a packet to the kernel. data is non-nil when the
	// packet was rewritten and must replace the queued copy.
	Verdict(id uint32, d nat66.Disposition, data []byte) error

	Close() error
}

// QueueNumber returns the NFQUEUE number of a worker. In2out queues start at
// base and out2in queues follow them.
func QueueNumber(base uint16, workers int, dir stats.Direction, worker int) uint16 {
	return base + uint16(int(dir)*workers+worker)
}

// QueueRange returns the first and last queue numbers of a direction.
func QueueRange(base uint16, workers int, dir stats.Direction) (uint16, uint16) {
	return QueueNumber(base, workers, dir, 0), QueueNumber(base, workers, dir, workers-1)
}

// Verdict is one verdict issued on a ChanSource.
type Verdict struct {
	ID          uint32
	Disposition nat66.Disposition
	Data        []byte
}

// ChanSource is an in-memory Source fed through a channel.
type ChanSource struct {
	in       chan Received
	verdicts []Verdict
	closed   bool
	mu       sync.Mutex
	notify   chan struct{}
}

// NewChanSource creates a ChanSource buffering up to size packets.
func NewChanSource(size int) *ChanSource {
	return &ChanSource{
		in:     make(chan Received, size),
		notify: make(chan struct{}, 1),
	}
}

// Inject queues a packet for delivery.
func (s *ChanSource) Inject(r Received) {
	s.in <- r
}

func (s *ChanSource) Run(ctx context.Context, deliver func(Received)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-s.in:
			deliver(r)
		}
	}
}

func (s *ChanSource) Verdict(id uint32, d nat66.Disposition, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	var copied []byte
	if data != nil {
		copied = append([]byte(nil), data...)
	}
	s.verdicts = append(s.verdicts, Verdict{ID: id, Disposition: d, Data: copied})

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *ChanSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Verdicts returns a copy of the verdicts issued so far.
func (s *ChanSource) Verdicts() []Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Verdict(nil), s.verdicts...)
}

// Notify signals after each verdict.
func (s *ChanSource) Notify() <-chan struct{} {
	return s.notify
}
