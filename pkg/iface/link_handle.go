package iface

import "context"

// LinkHandle resolves interface names to kernel interface indexes.
// On Linux, it queries netlink; elsewhere a fake table is used.
type LinkHandle interface {
	LinkIndex(name string) (uint32, error)

	// Subscribe invokes notify whenever a link is added, removed or changed,
	// until ctx is done.
	Subscribe(ctx context.Context, notify func()) error
}
