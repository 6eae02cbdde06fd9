//go:build linux

package iface

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
)

type linuxHandle struct{}

// NewLinkHandle creates a netlink-backed LinkHandle on Linux.
func NewLinkHandle() LinkHandle {
	return linuxHandle{}
}

func (linuxHandle) LinkIndex(name string) (uint32, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return 0, fmt.Errorf("%s: %w", name, ErrLinkNotFound)
		}
		return 0, fmt.Errorf("failed to look up link %s: %w", name, err)
	}
	return uint32(link.Attrs().Index), nil
}

func (linuxHandle) Subscribe(ctx context.Context, notify func()) error {
	updates := make(chan netlink.LinkUpdate, 64)
	errCh := make(chan error, 1)

	err := netlink.LinkSubscribeWithOptions(updates, ctx.Done(), netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to link updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return fmt.Errorf("link subscription failed: %w", err)
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			notify()
		}
	}
}
